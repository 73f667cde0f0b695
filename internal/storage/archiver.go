package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agent-chart-lab/internal/domain"
)

// Archiver appends the new tail of each delivered snapshot to a SeriesStore.
// Deliveries are full snapshots, so only points newer than the latest
// archived timestamp are written. The newest kline candle may still be
// open and is held back until a later candle closes it.
type Archiver struct {
	store SeriesStore
	locks sync.Map // series key -> *sync.Mutex
}

// NewArchiver creates an archiver over store.
func NewArchiver(store SeriesStore) *Archiver {
	return &Archiver{store: store}
}

// Archive writes the points of s newer than what is already stored.
// Calls for the same key are serialized. It returns the number of points
// written.
func (a *Archiver) Archive(ctx context.Context, key domain.QueryKey, s domain.Series) (int, error) {
	if !s.HasData {
		return 0, nil
	}
	points := s.Points
	if key.Source == domain.SourceKline {
		points = points[:len(points)-1]
	}
	if len(points) == 0 {
		return 0, nil
	}
	seriesKey := key.String()

	mu, _ := a.locks.LoadOrStore(seriesKey, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	latest, err := a.store.LatestTimestamp(ctx, seriesKey)
	switch {
	case errors.Is(err, ErrNotFound):
		latest = -1
	case err != nil:
		return 0, fmt.Errorf("latest archived timestamp: %w", err)
	}

	var fresh []domain.TimePoint
	prev := latest
	for _, p := range points {
		// Ties inside one snapshot keep the first point only.
		if p.Timestamp > prev {
			fresh = append(fresh, p)
			prev = p.Timestamp
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := a.store.InsertBulk(ctx, seriesKey, fresh); err != nil {
		return 0, fmt.Errorf("archive %s: %w", seriesKey, err)
	}
	return len(fresh), nil
}
