package clickhouse

import (
	"context"
	"fmt"
	"time"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/storage"
)

// SeriesStore implements storage.SeriesStore using ClickHouse.
type SeriesStore struct {
	conn *Conn
}

// NewSeriesStore creates a new SeriesStore.
func NewSeriesStore(conn *Conn) *SeriesStore {
	return &SeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SeriesStore = (*SeriesStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (series_key, timestamp_ms).
func (s *SeriesStore) InsertBulk(ctx context.Context, seriesKey string, points []domain.TimePoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	if seriesKey == "" {
		return storage.ErrInvalidInput
	}

	seen := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if p.Timestamp < 0 {
			return fmt.Errorf("%w: negative timestamp %d", storage.ErrInvalidInput, p.Timestamp)
		}
		if _, exists := seen[p.Timestamp]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.Timestamp] = struct{}{}
	}

	defer func(start time.Time) { observe("insert_series", start, err) }(time.Now())

	// MergeTree does not enforce uniqueness, so check existing rows first.
	n, err := s.countExisting(ctx, seriesKey, points)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if n > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO series_archive (
			series_key, timestamp_ms, value, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		var open, high, low, closePrice, volume *float64
		if c := p.Candle; c != nil {
			open, high, low, closePrice, volume = &c.Open, &c.High, &c.Low, &c.Close, &c.Volume
		}
		err = batch.Append(
			seriesKey, uint64(p.Timestamp), p.Value,
			open, high, low, closePrice, volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByKey retrieves all points of a series, ordered by timestamp ASC.
func (s *SeriesStore) GetByKey(ctx context.Context, seriesKey string) (_ []domain.TimePoint, err error) {
	defer func(start time.Time) { observe("get_series", start, err) }(time.Now())

	query := `
		SELECT timestamp_ms, value, open, high, low, close, volume
		FROM series_archive
		WHERE series_key = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, seriesKey)
	if err != nil {
		return nil, fmt.Errorf("query by series key: %w", err)
	}
	defer rows.Close()

	return scanSeriesPoints(rows)
}

// GetByTimeRange retrieves points within [start, end] (inclusive).
func (s *SeriesStore) GetByTimeRange(ctx context.Context, seriesKey string, start, end int64) ([]domain.TimePoint, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}

	query := `
		SELECT timestamp_ms, value, open, high, low, close, volume
		FROM series_archive
		WHERE series_key = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, seriesKey, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSeriesPoints(rows)
}

// LatestTimestamp returns the newest archived timestamp of a series.
func (s *SeriesStore) LatestTimestamp(ctx context.Context, seriesKey string) (int64, error) {
	query := `
		SELECT count(*), max(timestamp_ms)
		FROM series_archive
		WHERE series_key = ?
	`

	var count, latest uint64
	if err := s.conn.QueryRow(ctx, query, seriesKey).Scan(&count, &latest); err != nil {
		return 0, fmt.Errorf("query latest timestamp: %w", err)
	}
	if count == 0 {
		return 0, storage.ErrNotFound
	}
	return int64(latest), nil
}

func (s *SeriesStore) countExisting(ctx context.Context, seriesKey string, points []domain.TimePoint) (uint64, error) {
	timestamps := make([]uint64, len(points))
	for i, p := range points {
		timestamps[i] = uint64(p.Timestamp)
	}

	query := `
		SELECT count(*) FROM series_archive
		WHERE series_key = ? AND timestamp_ms IN (?)
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, seriesKey, timestamps).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// scanSeriesPoints scans multiple rows.
func scanSeriesPoints(rows chRows) ([]domain.TimePoint, error) {
	var points []domain.TimePoint

	for rows.Next() {
		var timestampMs uint64
		var value float64
		var open, high, low, closePrice, volume *float64

		if err := rows.Scan(&timestampMs, &value, &open, &high, &low, &closePrice, &volume); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}

		p := domain.TimePoint{Timestamp: int64(timestampMs), Value: value}
		if open != nil && high != nil && low != nil && closePrice != nil && volume != nil {
			p.Candle = &domain.Candle{
				Time:   p.Timestamp,
				Open:   *open,
				High:   *high,
				Low:    *low,
				Close:  *closePrice,
				Volume: *volume,
			}
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series rows: %w", err)
	}

	return points, nil
}
