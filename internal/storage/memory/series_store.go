package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/storage"
)

// SeriesStore is an in-memory implementation of storage.SeriesStore.
type SeriesStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]domain.TimePoint // series_key -> timestamp_ms -> point
}

// NewSeriesStore creates a new in-memory series store.
func NewSeriesStore() *SeriesStore {
	return &SeriesStore{
		data: make(map[string]map[int64]domain.TimePoint),
	}
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *SeriesStore) InsertBulk(_ context.Context, seriesKey string, points []domain.TimePoint) error {
	if len(points) == 0 {
		return nil
	}
	if seriesKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[seriesKey]

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if _, exists := existing[p.Timestamp]; exists {
			return fmt.Errorf("%w: %s@%d", storage.ErrDuplicateKey, seriesKey, p.Timestamp)
		}
		if _, exists := batchKeys[p.Timestamp]; exists {
			return fmt.Errorf("%w: %s@%d", storage.ErrDuplicateKey, seriesKey, p.Timestamp)
		}
		batchKeys[p.Timestamp] = struct{}{}
	}

	// Second pass: insert all
	if existing == nil {
		existing = make(map[int64]domain.TimePoint, len(points))
		s.data[seriesKey] = existing
	}
	for _, p := range points {
		existing[p.Timestamp] = copyPoint(p)
	}

	return nil
}

// GetByKey retrieves all points of a series, ordered by timestamp ASC.
func (s *SeriesStore) GetByKey(_ context.Context, seriesKey string) ([]domain.TimePoint, error) {
	return s.collect(seriesKey, func(int64) bool { return true }), nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive).
func (s *SeriesStore) GetByTimeRange(_ context.Context, seriesKey string, start, end int64) ([]domain.TimePoint, error) {
	return s.collect(seriesKey, func(ts int64) bool { return ts >= start && ts <= end }), nil
}

// LatestTimestamp returns the newest archived timestamp.
func (s *SeriesStore) LatestTimestamp(_ context.Context, seriesKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, ok := s.data[seriesKey]
	if !ok || len(points) == 0 {
		return 0, storage.ErrNotFound
	}

	first := true
	var latest int64
	for ts := range points {
		if first || ts > latest {
			latest = ts
			first = false
		}
	}
	return latest, nil
}

func (s *SeriesStore) collect(seriesKey string, keep func(int64) bool) []domain.TimePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.TimePoint
	for ts, p := range s.data[seriesKey] {
		if keep(ts) {
			result = append(result, copyPoint(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result
}

func copyPoint(p domain.TimePoint) domain.TimePoint {
	if p.Candle != nil {
		c := *p.Candle
		p.Candle = &c
	}
	return p
}

var _ storage.SeriesStore = (*SeriesStore)(nil)
