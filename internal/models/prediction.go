package models

import (
	"errors"
	"math"
)

// PredictionRecord is one model forecast: the probability, issued on
// PredictionDate, that the SKU's price changes on TargetDate.
type PredictionRecord struct {
	SKUID          string  `json:"sku_id" db:"sku_id"`
	PredictionDate Date    `json:"prediction_date" db:"prediction_date"`
	TargetDate     Date    `json:"target_date" db:"target_date"`
	PredictionStep int     `json:"prediction_step" db:"prediction_step"`
	Probability    float64 `json:"prediction_probability" db:"prediction_probability"`
}

// Validate checks the fields the reconciliation engine relies on.
// PredictionStep must be positive but is not cross-checked against the dates.
func (p *PredictionRecord) Validate() error {
	if p.TargetDate.IsZero() {
		return errors.New("target date must not be empty")
	}
	if math.IsNaN(p.Probability) || math.IsInf(p.Probability, 0) {
		return errors.New("probability must be a finite number")
	}
	if p.Probability < 0.0 || p.Probability > 1.0 {
		return errors.New("probability must be between 0.0 and 1.0")
	}
	if p.PredictionStep <= 0 {
		return errors.New("prediction step must be a positive integer")
	}
	if !p.PredictionDate.IsZero() && p.TargetDate.Before(p.PredictionDate) {
		return errors.New("target date must not be before prediction date")
	}
	return nil
}
