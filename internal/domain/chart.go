package domain

import (
	"fmt"
	"time"
)

// ChartType selects which metric a chart widget displays.
type ChartType string

const (
	ChartTypePNL    ChartType = "pnl"
	ChartTypeEquity ChartType = "equity"
	ChartTypeTVL    ChartType = "tvl"
	ChartTypeKline  ChartType = "kline"
)

// IsValid checks if the chart type is a known value.
func (c ChartType) IsValid() bool {
	switch c {
	case ChartTypePNL, ChartTypeEquity, ChartTypeTVL, ChartTypeKline:
		return true
	}
	return false
}

// TimeRange is the selected look-back window of a chart.
type TimeRange string

const (
	TimeRange1D  TimeRange = "1D"
	TimeRange7D  TimeRange = "7D"
	TimeRange30D TimeRange = "30D"
	TimeRange90D TimeRange = "90D"
	TimeRangeAll TimeRange = "ALL"
)

// IsValid checks if the time range is a known value.
func (r TimeRange) IsValid() bool {
	_, ok := timeRangeWindows[r]
	return ok
}

// Window returns the look-back duration. Zero means unbounded (ALL).
func (r TimeRange) Window() time.Duration {
	return timeRangeWindows[r]
}

var timeRangeWindows = map[TimeRange]time.Duration{
	TimeRange1D:  24 * time.Hour,
	TimeRange7D:  7 * 24 * time.Hour,
	TimeRange30D: 30 * 24 * time.Hour,
	TimeRange90D: 90 * 24 * time.Hour,
	TimeRangeAll: 0,
}

// ParseTimeRange validates a raw time range string.
func ParseTimeRange(s string) (TimeRange, error) {
	r := TimeRange(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown time range %q", s)
	}
	return r, nil
}

// ParseChartType validates a raw chart type string.
func ParseChartType(s string) (ChartType, error) {
	c := ChartType(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown chart type %q", s)
	}
	return c, nil
}
