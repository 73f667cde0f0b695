package postgres

import (
	"context"
	"fmt"
	"time"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/storage"
)

// ViewStateStore is a PostgreSQL implementation of storage.ViewStateStore.
// One row per module in chart_view_state.
type ViewStateStore struct {
	pool *Pool
}

// NewViewStateStore creates a new PostgreSQL view-state store.
func NewViewStateStore(pool *Pool) *ViewStateStore {
	return &ViewStateStore{pool: pool}
}

// Save upserts the view-state of a module.
func (s *ViewStateStore) Save(ctx context.Context, module domain.Module, vs domain.ViewState) (err error) {
	if module == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("save_view_state", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO chart_view_state (module, time_range, chart_type, target_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (module) DO UPDATE
		SET time_range = EXCLUDED.time_range,
		    chart_type = EXCLUDED.chart_type,
		    target_id = EXCLUDED.target_id,
		    updated_at = NOW()
	`, string(module), string(vs.TimeRange), string(vs.ChartType), vs.TargetID)
	if err != nil {
		return fmt.Errorf("upsert view state %s: %w", module, err)
	}
	return nil
}

// Get retrieves the view-state of a module.
func (s *ViewStateStore) Get(ctx context.Context, module domain.Module) (vs domain.ViewState, err error) {
	defer func(start time.Time) { observe("get_view_state", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT time_range, chart_type, target_id
		FROM chart_view_state
		WHERE module = $1
	`, string(module))

	var timeRange, chartType string
	err = row.Scan(&timeRange, &chartType, &vs.TargetID)
	if err != nil {
		if isNotFoundError(err) {
			return domain.ViewState{}, storage.ErrNotFound
		}
		return domain.ViewState{}, err
	}

	vs.TimeRange = domain.TimeRange(timeRange)
	vs.ChartType = domain.ChartType(chartType)
	return vs, nil
}

// GetAll retrieves every saved view-state.
func (s *ViewStateStore) GetAll(ctx context.Context) (_ map[domain.Module]domain.ViewState, err error) {
	defer func(start time.Time) { observe("get_all_view_states", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT module, time_range, chart_type, target_id
		FROM chart_view_state
	`)
	if err != nil {
		return nil, fmt.Errorf("query view states: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Module]domain.ViewState)
	for rows.Next() {
		var module, timeRange, chartType, targetID string
		if err := rows.Scan(&module, &timeRange, &chartType, &targetID); err != nil {
			return nil, fmt.Errorf("scan view state row: %w", err)
		}
		out[domain.Module(module)] = domain.ViewState{
			TimeRange: domain.TimeRange(timeRange),
			ChartType: domain.ChartType(chartType),
			TargetID:  targetID,
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate view state rows: %w", err)
	}
	return out, nil
}

var _ storage.ViewStateStore = (*ViewStateStore)(nil)
