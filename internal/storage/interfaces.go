package storage

import (
	"context"

	"agent-chart-lab/internal/domain"
)

// ViewStateStore persists the chart view-state of each module across sessions.
type ViewStateStore interface {
	// Save upserts the view-state of a module.
	Save(ctx context.Context, module domain.Module, vs domain.ViewState) error

	// Get retrieves the view-state of a module. Returns ErrNotFound if never saved.
	Get(ctx context.Context, module domain.Module) (domain.ViewState, error)

	// GetAll retrieves every saved view-state.
	GetAll(ctx context.Context) (map[domain.Module]domain.ViewState, error)
}

// SeriesStore archives normalized series points keyed by series key
// (domain.QueryKey.String()). Points are append-only.
type SeriesStore interface {
	// InsertBulk adds points for a series. Fails entire batch on duplicate (series_key, timestamp_ms).
	InsertBulk(ctx context.Context, seriesKey string, points []domain.TimePoint) error

	// GetByKey retrieves all points of a series, ordered by timestamp ASC.
	GetByKey(ctx context.Context, seriesKey string) ([]domain.TimePoint, error)

	// GetByTimeRange retrieves points of a series within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, seriesKey string, start, end int64) ([]domain.TimePoint, error)

	// LatestTimestamp returns the newest archived timestamp. Returns ErrNotFound for an unknown series.
	LatestTimestamp(ctx context.Context, seriesKey string) (int64, error)
}
