// Package reconcile compares model predictions against observed prices.
//
// For every target date the effective prediction (the most recently issued
// one) is labelled "changed" when its probability is strictly above the
// probability threshold. The actual label compares the target-day price with
// the previous day's price: "changed" when |Δp| / p(t-1) is strictly above the
// change threshold. When either price is missing the actual label and the
// correctness flag are Unknown rather than false.
//
// Malformed input rows never abort a run; they are skipped and returned as
// DataWarnings. Only invalid thresholds are rejected with an error.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/pricecheck/internal/models"
)

// ErrInvalidParams is returned for thresholds outside their allowed range.
var ErrInvalidParams = errors.New("invalid reconciliation parameters")

// Params holds the two classification thresholds.
type Params struct {
	// ProbabilityThreshold (Y): a prediction is "changed" iff probability > Y. Must be in [0, 1].
	ProbabilityThreshold float64 `json:"probability_threshold"`
	// ChangeThreshold (X): a day is "changed" iff |Δp|/p(t-1) > X. Must be > 0.
	ChangeThreshold float64 `json:"change_threshold"`
}

// DefaultParams returns the thresholds the dashboard used by default.
func DefaultParams() Params {
	return Params{ProbabilityThreshold: 0.5, ChangeThreshold: 0.05}
}

// Validate rejects out-of-range thresholds; values are never clamped.
func (p Params) Validate() error {
	if math.IsNaN(p.ProbabilityThreshold) || p.ProbabilityThreshold < 0.0 || p.ProbabilityThreshold > 1.0 {
		return fmt.Errorf("%w: probability threshold %v must be between 0.0 and 1.0", ErrInvalidParams, p.ProbabilityThreshold)
	}
	if math.IsNaN(p.ChangeThreshold) || math.IsInf(p.ChangeThreshold, 0) || p.ChangeThreshold <= 0 {
		return fmt.Errorf("%w: change threshold %v must be a positive number", ErrInvalidParams, p.ChangeThreshold)
	}
	return nil
}

// PredictLabel applies the strict probability threshold.
func (p Params) PredictLabel(probability float64) models.Label {
	if probability > p.ProbabilityThreshold {
		return models.Changed
	}
	return models.Unchanged
}

// ActualLabel applies the strict change threshold to an absolute change ratio.
func (p Params) ActualLabel(changeRatio float64) models.Label {
	if changeRatio > p.ChangeThreshold {
		return models.Changed
	}
	return models.Unchanged
}

// DeriveComparisons produces one ComparisonRecord per distinct target date in
// predictions, ascending by date.
//
// prices must already be complete for the days of interest (see
// timeseries.ForwardFill); no filling happens here. For duplicate target
// dates the record with the latest PredictionDate wins; on an exact
// PredictionDate tie the record appearing later in predictions wins.
func DeriveComparisons(predictions []models.PredictionRecord, prices []models.PricePoint, params Params) ([]models.ComparisonRecord, []models.DataWarning, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	var warnings []models.DataWarning

	priceByDate := make(map[models.Date]models.PricePoint, len(prices))
	for i, p := range prices {
		if err := p.Validate(); err != nil {
			warnings = append(warnings, models.DataWarning{Index: i, Kind: "price", SKUID: p.SKUID, Reason: err.Error()})
			continue
		}
		priceByDate[p.Date] = p
	}

	effective := make(map[models.Date]models.PredictionRecord)
	for i, pred := range predictions {
		if err := pred.Validate(); err != nil {
			warnings = append(warnings, models.DataWarning{Index: i, Kind: "prediction", SKUID: pred.SKUID, Reason: err.Error()})
			continue
		}
		current, exists := effective[pred.TargetDate]
		if !exists || !pred.PredictionDate.Before(current.PredictionDate) {
			effective[pred.TargetDate] = pred
		}
	}

	comparisons := make([]models.ComparisonRecord, 0, len(effective))
	for _, pred := range effective {
		comparisons = append(comparisons, compare(pred, priceByDate, params))
	}
	sort.Slice(comparisons, func(i, j int) bool {
		return comparisons[i].Date.Before(comparisons[j].Date)
	})

	return comparisons, warnings, nil
}

// compare builds the record for a single effective prediction.
func compare(pred models.PredictionRecord, priceByDate map[models.Date]models.PricePoint, params Params) models.ComparisonRecord {
	rec := models.ComparisonRecord{
		Date:                   pred.TargetDate,
		PredictionDate:         pred.PredictionDate,
		PredictionStep:         pred.PredictionStep,
		Probability:            pred.Probability,
		PredictedLabel:         params.PredictLabel(pred.Probability),
		ActualLabel:            models.Unknown[models.Label](),
		IsCorrect:              models.Unknown[bool](),
		ActualPrice:            models.Unknown[float64](),
		PreviousPrice:          models.Unknown[float64](),
		ActualPriceChangeRatio: models.Unknown[float64](),
		PriceChange:            models.Unknown[float64](),
	}

	current, hasCurrent := priceByDate[pred.TargetDate]
	if hasCurrent {
		rec.ActualPrice = models.Known(current.Price)
		rec.PriceFilled = current.Filled
	}
	previous, hasPrevious := priceByDate[pred.TargetDate.AddDays(-1)]
	if hasPrevious {
		rec.PreviousPrice = models.Known(previous.Price)
	}

	// A zero predecessor price has no defined change ratio.
	if !hasCurrent || !hasPrevious || previous.Price == 0 {
		return rec
	}

	change := (current.Price - previous.Price) / previous.Price
	ratio := math.Abs(change)
	actual := params.ActualLabel(ratio)

	rec.PriceChange = models.Known(change)
	rec.ActualPriceChangeRatio = models.Known(ratio)
	rec.ActualLabel = models.Known(actual)
	rec.IsCorrect = models.Known(rec.PredictedLabel == actual)
	return rec
}
