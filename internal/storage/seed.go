package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/rewired-gh/pricecheck/internal/models"
)

// SeedOptions controls example data generation.
type SeedOptions struct {
	SKUs        []string
	Start       models.Date // first prediction date
	Days        int         // number of prediction dates
	HistoryDays int         // days of price history before Start
	MaxStep     int         // forecasts per prediction date
	Seed        uint64
}

// SeedResult reports how many rows were written.
type SeedResult struct {
	Prices      int
	Predictions int
}

// Seed writes deterministic example prices and forecasts for each SKU.
// Prices are mostly flat with occasional jumps of 5-15% and about one day in
// ten left out, so the data exercises both labels and forward-filling. The
// forecasts are informative but noisy.
func (s *Storage) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	var res SeedResult
	if len(opts.SKUs) == 0 {
		return res, fmt.Errorf("seed: at least one sku is required")
	}
	if opts.Start.IsZero() || opts.Days <= 0 || opts.MaxStep <= 0 {
		return res, fmt.Errorf("seed: start, a positive day count and a positive max step are required")
	}

	for _, sku := range opts.SKUs {
		rng := rand.New(rand.NewPCG(opts.Seed, skuHash(sku)))

		first := opts.Start.AddDays(-opts.HistoryDays)
		last := opts.Start.AddDays(opts.Days + opts.MaxStep)
		total := last.DaysSince(first) + 1

		price := float64(100 + rng.IntN(500))
		changed := make(map[models.Date]bool, total)
		var prices []models.PricePoint
		for i := 0; i < total; i++ {
			d := first.AddDays(i)
			if i > 0 && rng.Float64() < 0.2 {
				move := 0.05 + rng.Float64()*0.10
				if rng.IntN(2) == 0 {
					move = -move
				}
				price = math.Max(50, math.Round(price*(1+move)*100)/100)
				changed[d] = true
			}
			if i > 0 && rng.Float64() < 0.1 {
				continue
			}
			prices = append(prices, models.PricePoint{SKUID: sku, Date: d, Price: price})
		}

		var predictions []models.PredictionRecord
		for day := 0; day < opts.Days; day++ {
			issued := opts.Start.AddDays(day)
			for step := 1; step <= opts.MaxStep; step++ {
				target := issued.AddDays(step)
				prob := 0.15 + rng.Float64()*0.35
				if changed[target] {
					prob = 0.45 + rng.Float64()*0.5
				}
				predictions = append(predictions, models.PredictionRecord{
					SKUID:          sku,
					PredictionDate: issued,
					TargetDate:     target,
					PredictionStep: step,
					Probability:    math.Round(prob*1000) / 1000,
				})
			}
		}

		if err := s.AddPrices(ctx, prices); err != nil {
			return res, fmt.Errorf("seed %s: %w", sku, err)
		}
		if err := s.AddPredictions(ctx, predictions); err != nil {
			return res, fmt.Errorf("seed %s: %w", sku, err)
		}
		res.Prices += len(prices)
		res.Predictions += len(predictions)
	}

	return res, nil
}

func skuHash(sku string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sku))
	return h.Sum64()
}
