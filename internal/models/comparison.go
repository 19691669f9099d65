package models

import (
	"encoding/json"
	"fmt"
)

// Label classifies a day as a price change or not.
type Label int

const (
	// Unchanged means no significant price change.
	Unchanged Label = iota
	// Changed means a significant price change.
	Changed
)

// String returns "changed" or "unchanged".
func (l Label) String() string {
	if l == Changed {
		return "changed"
	}
	return "unchanged"
}

// MarshalJSON encodes the label as its string form.
func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts "changed" or "unchanged".
func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "changed":
		*l = Changed
	case "unchanged":
		*l = Unchanged
	default:
		return fmt.Errorf("unknown label %q", s)
	}
	return nil
}

// ComparisonRecord pairs the effective prediction for a target date with
// what the price actually did on that date.
//
// ActualLabel and IsCorrect are Unknown whenever the target-day price or the
// previous day's price is unavailable; otherwise IsCorrect is exactly
// PredictedLabel == ActualLabel.
type ComparisonRecord struct {
	Date                   Date           `json:"date"`
	PredictionDate         Date           `json:"prediction_date"`
	PredictionStep         int            `json:"prediction_step"`
	Probability            float64        `json:"probability"`
	PredictedLabel         Label          `json:"predicted_label"`
	ActualLabel            Maybe[Label]   `json:"actual_label"`
	IsCorrect              Maybe[bool]    `json:"is_correct"`
	ActualPrice            Maybe[float64] `json:"actual_price"`
	PreviousPrice          Maybe[float64] `json:"previous_price"`
	ActualPriceChangeRatio Maybe[float64] `json:"actual_price_change_ratio"` // |p(t)-p(t-1)| / p(t-1)
	PriceChange            Maybe[float64] `json:"price_change"`              // signed (p(t)-p(t-1)) / p(t-1)
	PriceFilled            bool           `json:"price_filled"`
}

// DailyPrediction is one point of the predicted-probability series.
type DailyPrediction struct {
	Date           Date    `json:"date"`
	Probability    float64 `json:"probability"`
	PredictedLabel Label   `json:"predicted_label"`
}

// DataWarning describes an input record that was skipped as malformed.
// Index is the record's position in the slice named by Source, or in the
// predictions or prices passed to DeriveComparisons when Source is empty.
type DataWarning struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`             // "prediction" or "price"
	Source string `json:"source,omitempty"` // "historical" or "future" for pipeline price rows
	SKUID  string `json:"sku_id,omitempty"`
	Reason string `json:"reason"`
}

func (w DataWarning) String() string {
	if w.Source != "" {
		return fmt.Sprintf("skipped %s %s #%d (sku %q): %s", w.Source, w.Kind, w.Index, w.SKUID, w.Reason)
	}
	return fmt.Sprintf("skipped %s #%d (sku %q): %s", w.Kind, w.Index, w.SKUID, w.Reason)
}
