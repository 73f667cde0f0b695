// Package livetick merges streaming kline updates into an already loaded series.
package livetick

import (
	"sync"

	"agent-chart-lab/internal/domain"
)

// MergeResult reports what MergeTick did with a tick.
type MergeResult int

const (
	// Rejected means the series was empty, there is nothing to merge onto.
	Rejected MergeResult = iota
	// Stale means the tick is older than the last point and was ignored.
	Stale
	// Overwritten means the tick replaced the last point (same candle period).
	Overwritten
	// Appended means the tick started a new candle period.
	Appended
	// NotLoaded means historical data for the current key was not ready.
	NotLoaded
)

// String returns the metric label of the result.
func (r MergeResult) String() string {
	switch r {
	case Stale:
		return "stale"
	case Overwritten:
		return "overwritten"
	case Appended:
		return "appended"
	case NotLoaded:
		return "not_loaded"
	default:
		return "rejected"
	}
}

// Applied reports whether the series changed.
func (r MergeResult) Applied() bool {
	return r == Overwritten || r == Appended
}

// MergeTick applies one tick to the tail of series in place:
//   - same time as the last point: overwrite its value fields
//   - newer: append a new point
//   - older: no-op, stale ticks never reorder or regress the series
func MergeTick(series *domain.Series, tick domain.Candle) MergeResult {
	if series == nil || len(series.Points) == 0 {
		return Rejected
	}

	last := &series.Points[len(series.Points)-1]
	c := tick

	var result MergeResult
	switch {
	case tick.Time == last.Timestamp:
		last.Value = tick.Close
		last.Candle = &c
		result = Overwritten
	case tick.Time > last.Timestamp:
		series.Points = append(series.Points, domain.TimePoint{
			Timestamp: tick.Time,
			Value:     tick.Close,
			Candle:    &c,
		})
		result = Appended
	default:
		return Stale
	}

	series.RefreshTrend()
	return result
}

// Merger guards MergeTick with the historical-data-loaded flag of the
// currently selected key. Ticks for any other key, or for a key whose
// history has not finished loading, are refused.
type Merger struct {
	mu     sync.Mutex
	key    string
	loaded bool
}

// NewMerger creates a merger with no key selected.
func NewMerger() *Merger {
	return &Merger{}
}

// Reset selects a new key and clears the loaded flag.
func (m *Merger) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	m.loaded = false
}

// MarkLoaded records that history for key finished loading.
// It is ignored if key is no longer current.
func (m *Merger) MarkLoaded(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == m.key {
		m.loaded = true
	}
}

// Loaded reports whether history for the current key is loaded.
func (m *Merger) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Apply merges tick into series if key is current and loaded.
func (m *Merger) Apply(key string, series *domain.Series, tick domain.Candle) MergeResult {
	m.mu.Lock()
	ready := m.loaded && key == m.key
	m.mu.Unlock()

	if !ready {
		return NotLoaded
	}
	return MergeTick(series, tick)
}
