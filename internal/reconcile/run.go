package reconcile

import (
	"fmt"
	"sort"

	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/timeseries"
)

// Input is everything a single-SKU reconciliation needs.
type Input struct {
	SKUID       string
	Predictions []models.PredictionRecord
	Historical  []models.PricePoint
	Future      []models.PricePoint
	Params      Params
}

// Metadata describes the window and input sizes of a run.
type Metadata struct {
	StartDate        models.Date `json:"start_date"`
	EndDate          models.Date `json:"end_date"`
	TotalPredictions int         `json:"total_predictions"`
	TotalHistorical  int         `json:"total_historical"`
	TotalFuture      int         `json:"total_future"`
	FilledDays       int         `json:"filled_days"`
}

// Result is the output handed to the presentation layer.
type Result struct {
	SKUID       string                    `json:"sku_id"`
	Params      Params                    `json:"params"`
	Comparisons []models.ComparisonRecord `json:"comparisons"`
	Stats       models.AccuracyStats      `json:"stats"`
	Daily       []models.DailyPrediction  `json:"daily_predictions"`
	Prices      []models.PricePoint       `json:"prices"`
	Warnings    []models.DataWarning      `json:"warnings,omitempty"`
	Metadata    Metadata                  `json:"metadata"`
}

// Run executes the full pipeline: merge historical and future prices,
// forward-fill gaps between observations, derive comparisons and aggregate
// them.
//
// The fill span runs from the earliest to the latest valid observation. It
// never extends past the last observed price, so a target date without an
// observation on or after it stays Unknown instead of being scored against a
// carried-forward price.
func Run(in Input) (*Result, error) {
	if err := in.Params.Validate(); err != nil {
		return nil, err
	}

	// Invalid rows are dropped before merging so they are never carried
	// forward. Warnings point at the row in its own input slice.
	var warnings []models.DataWarning
	historical, historicalWarnings := validPrices(in.Historical, "historical")
	future, futureWarnings := validPrices(in.Future, "future")
	warnings = append(warnings, historicalWarnings...)
	warnings = append(warnings, futureWarnings...)
	observed := timeseries.Merge(historical, future)

	result := &Result{
		SKUID:  in.SKUID,
		Params: in.Params,
		Metadata: Metadata{
			TotalPredictions: len(in.Predictions),
			TotalHistorical:  len(in.Historical),
			TotalFuture:      len(in.Future),
		},
	}

	filled := []models.PricePoint{}
	if first, last, ok := timeseries.Bounds(observed); ok {
		var err error
		filled, err = timeseries.ForwardFill(observed, first, last)
		if err != nil {
			return nil, fmt.Errorf("failed to forward-fill prices: %w", err)
		}
		result.Metadata.StartDate = first
		result.Metadata.EndDate = last
	}
	for _, p := range filled {
		if p.Filled {
			result.Metadata.FilledDays++
		}
	}

	comparisons, deriveWarnings, err := DeriveComparisons(in.Predictions, filled, in.Params)
	if err != nil {
		return nil, err
	}

	result.Comparisons = comparisons
	result.Warnings = append(warnings, deriveWarnings...)
	result.Stats = Aggregate(comparisons)
	result.Daily = DailySeries(comparisons)
	result.Prices = filled
	return result, nil
}

// validPrices returns the rows of prices that pass validation and a warning,
// indexed into prices, for each row that does not.
func validPrices(prices []models.PricePoint, source string) ([]models.PricePoint, []models.DataWarning) {
	valid := make([]models.PricePoint, 0, len(prices))
	var warnings []models.DataWarning
	for i, p := range prices {
		if err := p.Validate(); err != nil {
			warnings = append(warnings, models.DataWarning{Index: i, Kind: "price", Source: source, SKUID: p.SKUID, Reason: err.Error()})
			continue
		}
		valid = append(valid, p)
	}
	return valid, warnings
}

// DailySeries extracts the predicted-probability series from comparisons.
func DailySeries(comparisons []models.ComparisonRecord) []models.DailyPrediction {
	daily := make([]models.DailyPrediction, 0, len(comparisons))
	for _, c := range comparisons {
		daily = append(daily, models.DailyPrediction{
			Date:           c.Date,
			Probability:    c.Probability,
			PredictedLabel: c.PredictedLabel,
		})
	}
	sort.Slice(daily, func(i, j int) bool {
		return daily[i].Date.Before(daily[j].Date)
	})
	return daily
}
