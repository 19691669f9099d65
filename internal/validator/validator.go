// Package validator runs prediction-vs-actual reconciliations against a data
// source, for a single SKU or for a batch of SKUs.
//
// A batch runs one independent reconciliation per SKU on a bounded worker
// pool. A SKU that fails (fetch error, invalid data) is reported alongside
// the others with an Unknown accuracy; it never aborts the batch.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
)

// ErrInvalidRequest is returned for malformed validation requests.
var ErrInvalidRequest = errors.New("invalid validation request")

// Source provides the raw rows a validation needs.
type Source interface {
	// FetchHistoricalPrices returns prices strictly before asOf.
	FetchHistoricalPrices(ctx context.Context, skuID string, asOf models.Date) ([]models.PricePoint, error)
	// FetchFuturePrices returns observed prices in [start, end].
	FetchFuturePrices(ctx context.Context, skuID string, start, end models.Date) ([]models.PricePoint, error)
	// FetchPredictions returns forecasts issued on predictionDate with 1 <= step <= maxStep.
	FetchPredictions(ctx context.Context, skuID string, predictionDate models.Date, maxStep int) ([]models.PredictionRecord, error)
}

// Recorder receives per-validation measurements. A nil Recorder is allowed.
type Recorder interface {
	ObserveValidation(outcome string, duration time.Duration)
	ObserveWarnings(warnings []models.DataWarning)
	ObserveFetch(kind string, duration time.Duration, err error)
}

// Request identifies one SKU validation.
type Request struct {
	SKUID          string      `json:"sku_id"`
	PredictionDate models.Date `json:"date"`
	Step           int         `json:"step"`
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SKUID) == "" {
		return fmt.Errorf("%w: sku id must not be empty", ErrInvalidRequest)
	}
	if r.PredictionDate.IsZero() {
		return fmt.Errorf("%w: prediction date is required", ErrInvalidRequest)
	}
	if r.Step <= 0 {
		return fmt.Errorf("%w: prediction step must be a positive integer, got %d", ErrInvalidRequest, r.Step)
	}
	return nil
}

// Validator reconciles predictions against prices pulled from a Source.
type Validator struct {
	source      Source
	params      reconcile.Params
	concurrency int
	recorder    Recorder
}

// Option configures a Validator.
type Option func(*Validator)

// WithConcurrency bounds the number of SKUs validated at once in a batch.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(v *Validator) {
		v.recorder = r
	}
}

// New creates a Validator. params are the default thresholds; callers may
// override them per call with ValidateWith / BatchWith.
func New(source Source, params reconcile.Params, opts ...Option) (*Validator, error) {
	if source == nil {
		return nil, errors.New("validator: source is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{
		source:      source,
		params:      params,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Params returns the default thresholds.
func (v *Validator) Params() reconcile.Params {
	return v.params
}

// Validate runs a single-SKU validation with the default thresholds.
func (v *Validator) Validate(ctx context.Context, req Request) (*reconcile.Result, error) {
	return v.ValidateWith(ctx, req, v.params)
}

// ValidateWith runs a single-SKU validation with explicit thresholds.
//
// Predictions are those issued on req.PredictionDate up to req.Step days
// ahead. Historical prices end the day before the prediction date; future
// prices cover [PredictionDate, PredictionDate+Step].
func (v *Validator) ValidateWith(ctx context.Context, req Request, params reconcile.Params) (*reconcile.Result, error) {
	start := time.Now()
	result, err := v.validate(ctx, req, params)
	if v.recorder != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		} else if !result.Stats.Accuracy.IsKnown() {
			outcome = "no_data"
		}
		v.recorder.ObserveValidation(outcome, time.Since(start))
		if result != nil {
			v.recorder.ObserveWarnings(result.Warnings)
		}
	}
	return result, err
}

func (v *Validator) validate(ctx context.Context, req Request, params reconcile.Params) (*reconcile.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	end := req.PredictionDate.AddDays(req.Step)

	predictions, err := timed(v, "predictions", func() ([]models.PredictionRecord, error) {
		return v.source.FetchPredictions(ctx, req.SKUID, req.PredictionDate, req.Step)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch predictions for %s: %w", req.SKUID, err)
	}

	historical, err := timed(v, "historical", func() ([]models.PricePoint, error) {
		return v.source.FetchHistoricalPrices(ctx, req.SKUID, req.PredictionDate)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch historical prices for %s: %w", req.SKUID, err)
	}

	future, err := timed(v, "future", func() ([]models.PricePoint, error) {
		return v.source.FetchFuturePrices(ctx, req.SKUID, req.PredictionDate, end)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch future prices for %s: %w", req.SKUID, err)
	}

	logger.Debug("Validating %s on %s (step %d): %d predictions, %d historical, %d future prices",
		req.SKUID, req.PredictionDate, req.Step, len(predictions), len(historical), len(future))

	result, err := reconcile.Run(reconcile.Input{
		SKUID:       req.SKUID,
		Predictions: predictions,
		Historical:  historical,
		Future:      future,
		Params:      params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile %s: %w", req.SKUID, err)
	}

	for _, w := range result.Warnings {
		logger.Warn("Data quality: %s", w)
	}
	return result, nil
}

// timed wraps a fetch with the recorder's latency/error accounting.
func timed[T any](v *Validator, kind string, fetch func() ([]T, error)) ([]T, error) {
	start := time.Now()
	rows, err := fetch()
	if v.recorder != nil {
		v.recorder.ObserveFetch(kind, time.Since(start), err)
	}
	return rows, err
}
