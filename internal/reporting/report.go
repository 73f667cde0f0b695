// Package reporting renders comparison and series data for export.
package reporting

import (
	"time"

	"agent-chart-lab/internal/domain"
)

// ComparisonReport summarizes an equity-vs-hold comparison.
type ComparisonReport struct {
	// Metadata
	GeneratedAt time.Time
	BacktestID  string
	Symbol      string
	Initial     float64

	// Range (ms), intersections excluded
	Samples int
	StartMs int64
	EndMs   int64

	Intersections int
	FinalEquity   float64
	FinalHold     float64
	MaxEquity     float64
	MinEquity     float64
}

// Outperformed reports whether the strategy's final profit beat holding.
// Hold is a position value, so its profit is measured against the initial
// investment.
func (r ComparisonReport) Outperformed() bool {
	return r.FinalEquity > r.FinalHold-r.Initial
}

// Summarize builds a report from comparison records.
func Summarize(backtestID, symbol string, initial float64, records []domain.ComparisonRecord, generatedAt time.Time) ComparisonReport {
	r := ComparisonReport{
		GeneratedAt: generatedAt,
		BacktestID:  backtestID,
		Symbol:      symbol,
		Initial:     initial,
	}

	first := true
	for _, rec := range records {
		if rec.IsIntersection {
			r.Intersections++
			continue
		}
		if first {
			r.StartMs = rec.Time
			r.MaxEquity, r.MinEquity = rec.Equity, rec.Equity
			first = false
		}
		r.Samples++
		r.EndMs = rec.Time
		r.FinalEquity = rec.Equity
		r.FinalHold = rec.Hold
		if rec.Equity > r.MaxEquity {
			r.MaxEquity = rec.Equity
		}
		if rec.Equity < r.MinEquity {
			r.MinEquity = rec.Equity
		}
	}
	return r
}
