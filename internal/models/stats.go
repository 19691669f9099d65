package models

// SegmentStats is the accuracy of a subset of comparisons.
type SegmentStats struct {
	TotalCompared int            `json:"total_compared"`
	CorrectCount  int            `json:"correct_count"`
	Accuracy      Maybe[float64] `json:"accuracy"`
}

// Confusion counts outcomes with "changed" as the positive class.
type Confusion struct {
	TruePositive  int `json:"true_positive"`
	FalsePositive int `json:"false_positive"`
	TrueNegative  int `json:"true_negative"`
	FalseNegative int `json:"false_negative"`
}

// AccuracyStats aggregates a set of comparison records. Accuracy is Unknown
// when nothing could be compared, which is distinct from 0% accuracy.
type AccuracyStats struct {
	TotalCompared int            `json:"total_compared"`
	CorrectCount  int            `json:"correct_count"`
	UnknownCount  int            `json:"unknown_count"`
	Accuracy      Maybe[float64] `json:"accuracy"`
	Changed       SegmentStats   `json:"changed"`
	Unchanged     SegmentStats   `json:"unchanged"`
	Confusion     Confusion      `json:"confusion"`
	Precision     Maybe[float64] `json:"precision"`
	Recall        Maybe[float64] `json:"recall"`
}

// Ratio returns num/den, or Unknown when den is zero.
func Ratio(num, den int) Maybe[float64] {
	if den == 0 {
		return Unknown[float64]()
	}
	return Known(float64(num) / float64(den))
}
