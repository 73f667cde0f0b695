package normalization

import (
	"sort"

	"agent-chart-lab/internal/domain"
)

// SortPoints orders points by timestamp ASC.
// The sort is stable: points sharing a timestamp keep their input order.
func SortPoints(points []domain.TimePoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})
}

// IsSorted reports whether timestamps are non-decreasing.
func IsSorted(points []domain.TimePoint) bool {
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp < points[i-1].Timestamp {
			return false
		}
	}
	return true
}
