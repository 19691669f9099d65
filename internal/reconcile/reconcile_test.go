package reconcile

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/rewired-gh/pricecheck/internal/models"
)

func day(s string) models.Date {
	return models.MustParseDate(s)
}

func price(date string, p float64) models.PricePoint {
	return models.PricePoint{SKUID: "sku-1", Date: day(date), Price: p}
}

func prediction(issued, target string, prob float64) models.PredictionRecord {
	return models.PredictionRecord{
		SKUID:          "sku-1",
		PredictionDate: day(issued),
		TargetDate:     day(target),
		PredictionStep: day(target).DaysSince(day(issued)),
		Probability:    prob,
	}
}

var scenarioParams = Params{ProbabilityThreshold: 0.5, ChangeThreshold: 0.05}

func mustDerive(t *testing.T, preds []models.PredictionRecord, prices []models.PricePoint, params Params) []models.ComparisonRecord {
	t.Helper()
	comparisons, warnings, err := DeriveComparisons(preds, prices, params)
	if err != nil {
		t.Fatalf("DeriveComparisons failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	return comparisons
}

func TestDeriveComparisons_UnchangedPriceWithChangePrediction(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{prediction("2025-01-01", "2025-01-02", 0.7)},
		[]models.PricePoint{price("2025-01-01", 100), price("2025-01-02", 100)},
		scenarioParams,
	)
	if len(comparisons) != 1 {
		t.Fatalf("expected 1 comparison, got %d", len(comparisons))
	}
	c := comparisons[0]

	if c.PredictedLabel != models.Changed {
		t.Errorf("expected predicted changed, got %s", c.PredictedLabel)
	}
	if ratio, ok := c.ActualPriceChangeRatio.Get(); !ok || ratio != 0 {
		t.Errorf("expected ratio 0, got %v", c.ActualPriceChangeRatio)
	}
	if label, ok := c.ActualLabel.Get(); !ok || label != models.Unchanged {
		t.Errorf("expected actual unchanged, got %v", c.ActualLabel)
	}
	if correct, ok := c.IsCorrect.Get(); !ok || correct {
		t.Errorf("expected isCorrect Known(false), got %v", c.IsCorrect)
	}
}

func TestDeriveComparisons_ChangedPriceWithChangePrediction(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{prediction("2025-01-01", "2025-01-02", 0.7)},
		[]models.PricePoint{price("2025-01-01", 100), price("2025-01-02", 110)},
		scenarioParams,
	)
	c := comparisons[0]

	if ratio, ok := c.ActualPriceChangeRatio.Get(); !ok || math.Abs(ratio-0.10) > 1e-9 {
		t.Errorf("expected ratio 0.10, got %v", c.ActualPriceChangeRatio)
	}
	if change, ok := c.PriceChange.Get(); !ok || change <= 0 {
		t.Errorf("expected positive signed change, got %v", c.PriceChange)
	}
	if label, ok := c.ActualLabel.Get(); !ok || label != models.Changed {
		t.Errorf("expected actual changed, got %v", c.ActualLabel)
	}
	if correct, ok := c.IsCorrect.Get(); !ok || !correct {
		t.Errorf("expected isCorrect Known(true), got %v", c.IsCorrect)
	}
	if p, ok := c.ActualPrice.Get(); !ok || p != 110 {
		t.Errorf("expected actual price 110, got %v", c.ActualPrice)
	}
}

func TestDeriveComparisons_MissingPredecessorIsUnknown(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{prediction("2025-01-01", "2025-01-02", 0.7)},
		[]models.PricePoint{price("2025-01-02", 110)},
		scenarioParams,
	)
	c := comparisons[0]

	if c.ActualLabel.IsKnown() {
		t.Errorf("expected actual label Unknown, got %v", c.ActualLabel)
	}
	if c.IsCorrect.IsKnown() {
		t.Errorf("expected isCorrect Unknown (not false), got %v", c.IsCorrect)
	}
	if !c.ActualPrice.IsKnown() {
		t.Error("target-day price is available and should still be reported")
	}

	stats := Aggregate(comparisons)
	if stats.TotalCompared != 0 || stats.UnknownCount != 1 {
		t.Errorf("expected 0 compared / 1 unknown, got %d / %d", stats.TotalCompared, stats.UnknownCount)
	}
	if stats.Accuracy.IsKnown() {
		t.Errorf("expected Unknown accuracy, got %v", stats.Accuracy)
	}
}

func TestDeriveComparisons_LatestPredictionWins(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{
			prediction("2025-01-05", "2025-01-10", 0.8),
			prediction("2025-01-01", "2025-01-10", 0.3),
		},
		nil,
		scenarioParams,
	)
	if len(comparisons) != 1 {
		t.Fatalf("expected 1 comparison for the shared target date, got %d", len(comparisons))
	}
	if comparisons[0].Probability != 0.8 {
		t.Errorf("expected probability 0.8 from the latest forecast, got %v", comparisons[0].Probability)
	}
	if comparisons[0].PredictionDate.String() != "2025-01-05" {
		t.Errorf("expected prediction date 2025-01-05, got %s", comparisons[0].PredictionDate)
	}
}

func TestDeriveComparisons_SamePredictionDateLaterInputWins(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{
			prediction("2025-01-01", "2025-01-03", 0.2),
			prediction("2025-01-01", "2025-01-03", 0.9),
		},
		nil,
		scenarioParams,
	)
	if comparisons[0].Probability != 0.9 {
		t.Errorf("expected the later input record (0.9) to win, got %v", comparisons[0].Probability)
	}
}

func TestDeriveComparisons_ThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name          string
		probability   float64
		current       float64
		wantPredicted models.Label
		wantActual    models.Label
	}{
		{"probability equal to threshold is unchanged", 0.5, 100, models.Unchanged, models.Unchanged},
		{"probability just above threshold is changed", 0.5000001, 100, models.Changed, models.Unchanged},
		{"ratio equal to threshold is unchanged", 0.1, 104, models.Unchanged, models.Unchanged},
		{"ratio above threshold is changed", 0.1, 106, models.Unchanged, models.Changed},
		{"price drop counts as a change", 0.9, 90, models.Changed, models.Changed},
	}

	params := Params{ProbabilityThreshold: 0.5, ChangeThreshold: 0.04}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comparisons := mustDerive(t,
				[]models.PredictionRecord{prediction("2025-01-01", "2025-01-02", tt.probability)},
				[]models.PricePoint{price("2025-01-01", 100), price("2025-01-02", tt.current)},
				params,
			)
			c := comparisons[0]
			if c.PredictedLabel != tt.wantPredicted {
				t.Errorf("predicted = %s, expected %s", c.PredictedLabel, tt.wantPredicted)
			}
			if label, _ := c.ActualLabel.Get(); label != tt.wantActual {
				t.Errorf("actual = %s, expected %s", label, tt.wantActual)
			}
		})
	}
}

func TestDeriveComparisons_CorrectnessInvariant(t *testing.T) {
	prices := []models.PricePoint{
		price("2025-01-01", 100),
		price("2025-01-02", 100),
		price("2025-01-03", 120),
		price("2025-01-04", 119),
		price("2025-01-06", 80),
	}
	var preds []models.PredictionRecord
	for i, target := range []string{"2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05", "2025-01-06", "2025-01-07"} {
		preds = append(preds, prediction("2025-01-01", target, float64(i)/6))
	}

	comparisons := mustDerive(t, preds, prices, scenarioParams)
	if len(comparisons) != len(preds) {
		t.Fatalf("expected %d comparisons, got %d", len(preds), len(comparisons))
	}

	for i, c := range comparisons {
		if i > 0 && !comparisons[i-1].Date.Before(c.Date) {
			t.Errorf("comparisons not ascending at %d", i)
		}
		actual, known := c.ActualLabel.Get()
		correct, correctKnown := c.IsCorrect.Get()
		if known != correctKnown {
			t.Errorf("%s: actual known=%v but isCorrect known=%v", c.Date, known, correctKnown)
			continue
		}
		if known && correct != (c.PredictedLabel == actual) {
			t.Errorf("%s: isCorrect=%v but predicted=%s actual=%s", c.Date, correct, c.PredictedLabel, actual)
		}
	}
}

func TestDeriveComparisons_ZeroPredecessorPriceIsUnknown(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{prediction("2025-01-01", "2025-01-02", 0.7)},
		[]models.PricePoint{price("2025-01-01", 0), price("2025-01-02", 10)},
		scenarioParams,
	)
	if comparisons[0].IsCorrect.IsKnown() {
		t.Error("change ratio from a zero price must be Unknown")
	}
}

func TestDeriveComparisons_MalformedRecordsAreSkipped(t *testing.T) {
	preds := []models.PredictionRecord{
		prediction("2025-01-01", "2025-01-02", 0.7),
		// no target date
		{SKUID: "sku-1", PredictionDate: day("2025-01-01"), Probability: 0.4},
		// non-numeric probability
		{SKUID: "sku-1", PredictionDate: day("2025-01-01"), TargetDate: day("2025-01-03"), Probability: math.NaN()},
	}
	prices := []models.PricePoint{
		price("2025-01-01", 100),
		price("2025-01-02", 100),
		{SKUID: "sku-1", Date: day("2025-01-03"), Price: -5},
	}

	comparisons, warnings, err := DeriveComparisons(preds, prices, scenarioParams)
	if err != nil {
		t.Fatalf("malformed rows must not be fatal: %v", err)
	}
	if len(comparisons) != 1 {
		t.Errorf("expected 1 comparison, got %d", len(comparisons))
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}

	kinds := map[string]int{}
	for _, w := range warnings {
		kinds[w.Kind]++
	}
	if kinds["prediction"] != 2 || kinds["price"] != 1 {
		t.Errorf("unexpected warning kinds: %v", kinds)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"zero probability threshold", Params{ProbabilityThreshold: 0, ChangeThreshold: 0.1}, false},
		{"probability threshold of one", Params{ProbabilityThreshold: 1, ChangeThreshold: 0.1}, false},
		{"probability threshold above one", Params{ProbabilityThreshold: 1.1, ChangeThreshold: 0.1}, true},
		{"negative probability threshold", Params{ProbabilityThreshold: -0.1, ChangeThreshold: 0.1}, true},
		{"NaN probability threshold", Params{ProbabilityThreshold: math.NaN(), ChangeThreshold: 0.1}, true},
		{"zero change threshold", Params{ProbabilityThreshold: 0.5, ChangeThreshold: 0}, true},
		{"negative change threshold", Params{ProbabilityThreshold: 0.5, ChangeThreshold: -0.05}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}

	_, _, err := DeriveComparisons(nil, nil, Params{ProbabilityThreshold: 2, ChangeThreshold: 0.1})
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("DeriveComparisons should reject invalid params, got %v", err)
	}
}

func TestAggregate_Empty(t *testing.T) {
	stats := Aggregate([]models.ComparisonRecord{})
	if stats.TotalCompared != 0 {
		t.Errorf("expected 0 compared, got %d", stats.TotalCompared)
	}
	if stats.Accuracy.IsKnown() {
		t.Errorf("expected Unknown accuracy for no data, got %v", stats.Accuracy)
	}
	if stats.Changed.Accuracy.IsKnown() || stats.Unchanged.Accuracy.IsKnown() {
		t.Error("segment accuracy must be Unknown for no data")
	}
}

func TestAggregate_Segments(t *testing.T) {
	rec := func(predicted, actual models.Label) models.ComparisonRecord {
		return models.ComparisonRecord{
			PredictedLabel: predicted,
			ActualLabel:    models.Known(actual),
			IsCorrect:      models.Known(predicted == actual),
		}
	}
	comparisons := []models.ComparisonRecord{
		rec(models.Changed, models.Changed),     // TP
		rec(models.Changed, models.Unchanged),   // FP
		rec(models.Changed, models.Unchanged),   // FP
		rec(models.Unchanged, models.Unchanged), // TN
		rec(models.Unchanged, models.Unchanged), // TN
		rec(models.Unchanged, models.Changed),   // FN
		{PredictedLabel: models.Changed},        // unknown
	}

	stats := Aggregate(comparisons)

	if stats.TotalCompared != 6 || stats.CorrectCount != 3 || stats.UnknownCount != 1 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if acc, _ := stats.Accuracy.Get(); acc != 0.5 {
		t.Errorf("expected accuracy 0.5, got %v", stats.Accuracy)
	}
	if stats.Changed.TotalCompared != 3 || stats.Changed.CorrectCount != 1 {
		t.Errorf("unexpected changed segment: %+v", stats.Changed)
	}
	if acc, _ := stats.Unchanged.Accuracy.Get(); math.Abs(acc-2.0/3.0) > 1e-9 {
		t.Errorf("expected unchanged accuracy 2/3, got %v", stats.Unchanged.Accuracy)
	}
	expected := models.Confusion{TruePositive: 1, FalsePositive: 2, TrueNegative: 2, FalseNegative: 1}
	if stats.Confusion != expected {
		t.Errorf("confusion = %+v, expected %+v", stats.Confusion, expected)
	}
	if p, _ := stats.Precision.Get(); math.Abs(p-1.0/3.0) > 1e-9 {
		t.Errorf("expected precision 1/3, got %v", stats.Precision)
	}
	if r, _ := stats.Recall.Get(); r != 0.5 {
		t.Errorf("expected recall 0.5, got %v", stats.Recall)
	}
}

func TestAggregate_ZeroPercentIsKnown(t *testing.T) {
	stats := Aggregate([]models.ComparisonRecord{{
		PredictedLabel: models.Changed,
		ActualLabel:    models.Known(models.Unchanged),
		IsCorrect:      models.Known(false),
	}})
	acc, ok := stats.Accuracy.Get()
	if !ok || acc != 0 {
		t.Errorf("expected Known(0), got %v", stats.Accuracy)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	comparisons := mustDerive(t,
		[]models.PredictionRecord{
			prediction("2025-01-01", "2025-01-02", 0.7),
			prediction("2025-01-01", "2025-01-03", 0.2),
		},
		[]models.PricePoint{price("2025-01-01", 100), price("2025-01-02", 110), price("2025-01-03", 110)},
		scenarioParams,
	)
	snapshot := make([]models.ComparisonRecord, len(comparisons))
	copy(snapshot, comparisons)

	first := Aggregate(comparisons)
	second := Aggregate(comparisons)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Aggregate not idempotent: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(snapshot, comparisons) {
		t.Error("Aggregate mutated its input")
	}
}
