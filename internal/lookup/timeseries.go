package lookup

import (
	"errors"
	"sort"

	"agent-chart-lab/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoPriceData = errors.New("no price data available")
)

// PriceAt returns the value of the closest point at or before target.
// Points must be sorted by timestamp ASC.
// If no point precedes target, the first available value is returned.
// Returns ErrNoPriceData if the slice is empty.
func PriceAt(target int64, prices []domain.TimePoint) (float64, error) {
	i := IndexAt(target, prices)
	if i < 0 {
		return 0, ErrNoPriceData
	}
	return prices[i].Value, nil
}

// IndexAt returns the index of the closest point at or before target,
// 0 when target precedes every point, and -1 for an empty slice.
func IndexAt(target int64, points []domain.TimePoint) int {
	if len(points) == 0 {
		return -1
	}

	// First index strictly after target; the one before it is at-or-before.
	after := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp > target
	})
	if after == 0 {
		return 0
	}
	return after - 1
}
