// Package timeseries normalizes sparse daily price series into contiguous
// ones. Missing days are forward-filled from the most recent earlier
// observation; days before the first observation are left out rather than
// zero-filled, so absence stays the signal for "no data".
package timeseries

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/pricecheck/internal/models"
)

// ErrInvalidRange is returned when a date range ends before it starts.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange returns every calendar day in [start, end], ascending.
func DateRange(start, end models.Date) ([]models.Date, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, end, start)
	}

	days := end.DaysSince(start) + 1
	result := make([]models.Date, 0, days)
	for d := start; !d.After(end); d = d.AddDays(1) {
		result = append(result, d)
	}
	return result, nil
}

// ForwardFill returns one point per day in [start, end] for which a price is
// known: the exact observation for that day, or a copy of the most recent
// earlier observation tagged Filled. Observations before start seed the
// carried value; observations after end are ignored. When several
// observations share a day the last one in input order wins.
//
// The input slice is not modified.
func ForwardFill(points []models.PricePoint, start, end models.Date) ([]models.PricePoint, error) {
	days, err := DateRange(start, end)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return []models.PricePoint{}, nil
	}

	sorted := make([]models.PricePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	// Because the sort is stable, later duplicates overwrite earlier ones.
	byDate := make(map[models.Date]models.PricePoint, len(sorted))
	var last *models.PricePoint
	for i := range sorted {
		p := sorted[i]
		if p.Date.IsZero() {
			continue
		}
		if p.Date.Before(start) {
			last = &sorted[i]
			continue
		}
		byDate[p.Date] = p
	}

	result := make([]models.PricePoint, 0, len(days))
	for _, day := range days {
		if obs, ok := byDate[day]; ok {
			obs.Filled = false
			result = append(result, obs)
			last = &obs
			continue
		}
		if last == nil {
			continue // leading gap
		}
		filled := *last
		filled.Date = day
		filled.Filled = true
		result = append(result, filled)
	}

	return result, nil
}

// Merge unions two price series keyed by day. On a shared day the point from
// override wins; this is how actual future prices replace anything the
// historical series holds for the same day. Output is ascending by date.
func Merge(base, override []models.PricePoint) []models.PricePoint {
	byDate := make(map[models.Date]models.PricePoint, len(base)+len(override))
	for _, p := range base {
		byDate[p.Date] = p
	}
	for _, p := range override {
		byDate[p.Date] = p
	}

	result := make([]models.PricePoint, 0, len(byDate))
	for _, p := range byDate {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result
}

// Bounds returns the earliest and latest dates in points. ok is false for an empty series.
func Bounds(points []models.PricePoint) (first, last models.Date, ok bool) {
	for i, p := range points {
		if i == 0 || p.Date.Before(first) {
			first = p.Date
		}
		if i == 0 || p.Date.After(last) {
			last = p.Date
		}
	}
	return first, last, len(points) > 0
}
