package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/rewired-gh/pricecheck/internal/logger"
	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
)

// SKUError represents a per-SKU failure inside a batch.
type SKUError struct {
	SKUID string
	Err   error
}

func (e SKUError) Error() string {
	return fmt.Sprintf("validation error for sku %s: %v", e.SKUID, e.Err)
}

func (e SKUError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error as text.
func (e SKUError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SKUID string `json:"sku_id"`
		Error string `json:"error"`
	}{SKUID: e.SKUID, Error: e.Err.Error()})
}

// SKUResult is one row of a batch report.
type SKUResult struct {
	SKUID    string                `json:"sku_id"`
	Accuracy models.Maybe[float64] `json:"accuracy"`
	Result   *reconcile.Result     `json:"result,omitempty"`
	Err      error                 `json:"-"`
}

// Stats returns the SKU's aggregate, or zero stats if it failed.
func (r SKUResult) Stats() models.AccuracyStats {
	if r.Result == nil {
		return models.AccuracyStats{}
	}
	return r.Result.Stats
}

// BatchReport summarizes a batch validation run.
type BatchReport struct {
	RunID          string                `json:"run_id"`
	PredictionDate models.Date           `json:"date"`
	Step           int                   `json:"step"`
	Params         reconcile.Params      `json:"params"`
	StartedAt      time.Time             `json:"started_at"`
	Duration       time.Duration         `json:"duration"`
	Results        []SKUResult           `json:"results"`
	Errors         []SKUError            `json:"errors,omitempty"`
	TotalCompared  int                   `json:"total_compared"`
	CorrectCount   int                   `json:"correct_count"`
	Overall        models.Maybe[float64] `json:"overall_accuracy"`
}

// Best returns the SKU with the highest known accuracy.
func (b *BatchReport) Best() (SKUResult, bool) {
	if len(b.Results) == 0 || !b.Results[0].Accuracy.IsKnown() {
		return SKUResult{}, false
	}
	return b.Results[0], true
}

// Worst returns the SKU with the lowest known accuracy.
func (b *BatchReport) Worst() (SKUResult, bool) {
	for i := len(b.Results) - 1; i >= 0; i-- {
		if b.Results[i].Accuracy.IsKnown() {
			return b.Results[i], true
		}
	}
	return SKUResult{}, false
}

// Batch validates every SKU with the default thresholds.
func (v *Validator) Batch(ctx context.Context, skuIDs []string, predictionDate models.Date, step int) (*BatchReport, error) {
	return v.BatchWith(ctx, skuIDs, predictionDate, step, v.params)
}

// BatchWith validates every SKU concurrently. Only invalid arguments produce
// an error; per-SKU failures land in the report's Errors and leave that SKU's
// accuracy Unknown.
//
// Results are ordered by accuracy descending, Unknown last, ties by SKU ID.
func (v *Validator) BatchWith(ctx context.Context, skuIDs []string, predictionDate models.Date, step int, params reconcile.Params) (*BatchReport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ids := NormalizeSKUs(skuIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one sku id is required", ErrInvalidRequest)
	}
	if predictionDate.IsZero() || step <= 0 {
		return nil, fmt.Errorf("%w: prediction date and a positive step are required", ErrInvalidRequest)
	}

	report := &BatchReport{
		RunID:          uuid.New().String(),
		PredictionDate: predictionDate,
		Step:           step,
		Params:         params,
		StartedAt:      time.Now(),
		Results:        make([]SKUResult, len(ids)),
	}
	logger.Info("Starting batch %s: %d SKUs, date %s, step %d", report.RunID, len(ids), predictionDate, step)

	p := pool.New().WithMaxGoroutines(v.concurrency)
	for i, id := range ids {
		p.Go(func() {
			report.Results[i] = v.validateOne(ctx, Request{SKUID: id, PredictionDate: predictionDate, Step: step}, params)
		})
	}
	p.Wait()

	for _, r := range report.Results {
		if r.Err != nil {
			report.Errors = append(report.Errors, SKUError{SKUID: r.SKUID, Err: r.Err})
			continue
		}
		stats := r.Stats()
		report.TotalCompared += stats.TotalCompared
		report.CorrectCount += stats.CorrectCount
	}
	report.Overall = models.Ratio(report.CorrectCount, report.TotalCompared)

	sortResults(report.Results)
	report.Duration = time.Since(report.StartedAt)

	logger.Info("Batch %s completed in %v: %d SKUs, %d failed, overall accuracy %s",
		report.RunID, report.Duration, len(ids), len(report.Errors), report.Overall)
	return report, nil
}

// validateOne never panics the pool: a panic in one SKU is reported as its error.
func (v *Validator) validateOne(ctx context.Context, req Request, params reconcile.Params) (res SKUResult) {
	res = SKUResult{SKUID: req.SKUID, Accuracy: models.Unknown[float64]()}
	defer func() {
		if r := recover(); r != nil {
			res.Result = nil
			res.Accuracy = models.Unknown[float64]()
			res.Err = fmt.Errorf("panic: %v", r)
			logger.Error("Validation of %s panicked: %v", req.SKUID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	result, err := v.ValidateWith(ctx, req, params)
	if err != nil {
		logger.Warn("Validation failed for %s: %v", req.SKUID, err)
		res.Err = err
		return res
	}
	res.Result = result
	res.Accuracy = result.Stats.Accuracy
	return res
}

func sortResults(results []SKUResult) {
	sort.SliceStable(results, func(i, j int) bool {
		ai, iKnown := results[i].Accuracy.Get()
		aj, jKnown := results[j].Accuracy.Get()
		if iKnown != jKnown {
			return iKnown
		}
		if iKnown && ai != aj {
			return ai > aj
		}
		return results[i].SKUID < results[j].SKUID
	})
}

// NormalizeSKUs trims IDs, splits comma-separated entries and drops blanks
// and duplicates while keeping first-seen order.
func NormalizeSKUs(raw []string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, entry := range raw {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
