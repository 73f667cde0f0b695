// Package resample builds equity-vs-hold comparison series for backtest charts.
package resample

import (
	"math"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/lookup"
	"agent-chart-lab/internal/normalization"
)

// BuildComparison turns a backtest funding trend and the asset's price series
// into comparison records. The baseline is the funding value of the first
// sample (after sorting by time).
//
// prices must be sorted by timestamp ASC.
func BuildComparison(trend []domain.FundingTrendPoint, prices []domain.TimePoint, initialInvestment float64) []domain.ComparisonRecord {
	funding := normalization.NormalizeFundingTrend(trend)
	if !funding.HasData {
		return []domain.ComparisonRecord{}
	}
	return Compare(funding.Points, prices, initialInvestment, funding.First().Value)
}

// Compare builds comparison records against an explicit baseline:
//
//	equity[i] = funding[i] - baseline
//	hold[i]   = initialInvestment / price(time[0]) * price(time[i])
//
// and interleaves synthetic zero-crossing records where equity changes sign.
func Compare(funding []domain.TimePoint, prices []domain.TimePoint, initialInvestment, baseline float64) []domain.ComparisonRecord {
	if len(funding) == 0 {
		return []domain.ComparisonRecord{}
	}

	initialVolume := 0.0
	if p0, err := lookup.PriceAt(funding[0].Timestamp, prices); err == nil && p0 != 0 {
		initialVolume = initialInvestment / p0
	}

	records := make([]domain.ComparisonRecord, 0, len(funding))
	for _, f := range funding {
		hold := 0.0
		if p, err := lookup.PriceAt(f.Timestamp, prices); err == nil {
			hold = initialVolume * p
		}
		records = append(records, domain.ComparisonRecord{
			Time:           f.Timestamp,
			Equity:         f.Value - baseline,
			Hold:           hold,
			OriginalEquity: f.Value,
		})
	}

	return InsertIntersections(records, baseline)
}

// InsertIntersections returns a copy of records with a synthetic record after
// every index i where equity strictly changes sign between i and i+1.
//
// A sample exactly on zero is not a crossing: only (>0,<0) and (<0,>0) pairs
// produce an intersection. The intersection time is linearly interpolated with
// ratio |e[i]| / (|e[i]| + |e[i+1]|).
func InsertIntersections(records []domain.ComparisonRecord, baseline float64) []domain.ComparisonRecord {
	out := make([]domain.ComparisonRecord, 0, len(records))
	for i, cur := range records {
		out = append(out, cur)
		if i+1 >= len(records) {
			break
		}
		next := records[i+1]
		if !crossesZero(cur.Equity, next.Equity) {
			continue
		}

		ratio := math.Abs(cur.Equity) / (math.Abs(cur.Equity) + math.Abs(next.Equity))
		at := float64(cur.Time) + ratio*float64(next.Time-cur.Time)
		out = append(out, domain.ComparisonRecord{
			Time:           int64(math.Round(at)),
			Equity:         0,
			Hold:           cur.Hold,
			OriginalEquity: baseline,
			IsIntersection: true,
		})
	}
	return out
}

func crossesZero(a, b float64) bool {
	return (a > 0 && b < 0) || (a < 0 && b > 0)
}
