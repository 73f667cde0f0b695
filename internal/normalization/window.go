package normalization

import (
	"time"

	"agent-chart-lab/internal/domain"
)

// ClipToRange keeps the points that fall inside the look-back window ending at now.
// TimeRangeAll and unknown ranges return the series unchanged.
func ClipToRange(s domain.Series, r domain.TimeRange, now time.Time) domain.Series {
	window := r.Window()
	if window == 0 || !s.HasData {
		return s
	}
	cutoff := now.Add(-window).UnixMilli()

	// Points are sorted; find the first one inside the window.
	start := len(s.Points)
	for i, p := range s.Points {
		if p.Timestamp >= cutoff {
			start = i
			break
		}
	}

	out := domain.Series{ChartType: s.ChartType, Points: append([]domain.TimePoint{}, s.Points[start:]...)}
	out.RefreshTrend()
	return out
}
