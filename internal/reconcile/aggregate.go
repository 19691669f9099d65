package reconcile

import (
	"github.com/rewired-gh/pricecheck/internal/models"
)

// Aggregate computes accuracy over the comparisons whose correctness is
// known. Records with Unknown correctness are only counted in UnknownCount.
// With nothing compared, Accuracy is Unknown rather than 0.
//
// Aggregate is pure: the input is not modified and equal inputs give equal output.
func Aggregate(comparisons []models.ComparisonRecord) models.AccuracyStats {
	var stats models.AccuracyStats

	for _, c := range comparisons {
		correct, ok := c.IsCorrect.Get()
		if !ok {
			stats.UnknownCount++
			continue
		}

		stats.TotalCompared++
		segment := &stats.Unchanged
		if c.PredictedLabel == models.Changed {
			segment = &stats.Changed
		}
		segment.TotalCompared++
		if correct {
			stats.CorrectCount++
			segment.CorrectCount++
		}

		switch {
		case c.PredictedLabel == models.Changed && correct:
			stats.Confusion.TruePositive++
		case c.PredictedLabel == models.Changed:
			stats.Confusion.FalsePositive++
		case correct:
			stats.Confusion.TrueNegative++
		default:
			stats.Confusion.FalseNegative++
		}
	}

	stats.Accuracy = models.Ratio(stats.CorrectCount, stats.TotalCompared)
	stats.Changed.Accuracy = models.Ratio(stats.Changed.CorrectCount, stats.Changed.TotalCompared)
	stats.Unchanged.Accuracy = models.Ratio(stats.Unchanged.CorrectCount, stats.Unchanged.TotalCompared)

	cm := stats.Confusion
	stats.Precision = models.Ratio(cm.TruePositive, cm.TruePositive+cm.FalsePositive)
	stats.Recall = models.Ratio(cm.TruePositive, cm.TruePositive+cm.FalseNegative)

	return stats
}
