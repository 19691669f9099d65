// Package models defines the value types shared by the reconciliation engine,
// the data sources and the presentation layer: observed prices, model
// predictions, per-day comparison records and aggregate accuracy statistics.
//
// All types are plain values. They are created fresh for each query and
// never shared or cached across queries.
package models

import (
	"errors"
	"math"
)

// PricePoint is an observed (or forward-filled) daily price for a SKU.
type PricePoint struct {
	SKUID  string  `json:"sku_id" db:"sku_id"`
	Date   Date    `json:"date" db:"date"`
	Price  float64 `json:"price" db:"price"`
	Filled bool    `json:"filled,omitempty" db:"-"` // true when carried forward from an earlier day
}

// Validate checks that the price row is usable.
func (p *PricePoint) Validate() error {
	if p.Date.IsZero() {
		return errors.New("price date must not be empty")
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return errors.New("price must be a finite number")
	}
	if p.Price < 0 {
		return errors.New("price must not be negative")
	}
	return nil
}
