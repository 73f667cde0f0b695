// Package normalization turns heterogeneous remote payloads into canonical,
// time-ascending chart series.
package normalization

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
)

// FieldSpec describes where a payload keeps its time and value fields.
// The first alias present on a record wins.
type FieldSpec struct {
	TimeFields  []string
	ValueFields []string
	TimeUnit    TimeUnit
}

// DefaultFieldSpec accepts every field family the remote API uses:
// {timestamp,value}, {datetime,funding} and {time,close}.
var DefaultFieldSpec = FieldSpec{
	TimeFields:  []string{"timestamp", "datetime", "time"},
	ValueFields: []string{"value", "funding", "close"},
	TimeUnit:    Milliseconds,
}

// SpecFor returns the field spec for a source and chart type.
// Balance histories carry one column per chart type and fall back to "value".
func SpecFor(source domain.Source, chartType domain.ChartType) FieldSpec {
	switch source {
	case domain.SourceVaultBalance, domain.SourceStrategyBalance:
		spec := DefaultFieldSpec
		if chartType != "" && chartType != domain.ChartTypeKline {
			spec.ValueFields = append([]string{string(chartType)}, DefaultFieldSpec.ValueFields...)
		}
		return spec
	case domain.SourceFundingTrend:
		return FieldSpec{
			TimeFields:  []string{"datetime", "timestamp", "time"},
			ValueFields: []string{"funding", "value"},
			TimeUnit:    Milliseconds,
		}
	case domain.SourceKline:
		return FieldSpec{
			TimeFields:  []string{"time", "openTime", "t"},
			ValueFields: []string{"close", "c"},
			TimeUnit:    Milliseconds,
		}
	}
	return DefaultFieldSpec
}

// Normalize converts a raw JSON array into a Series sorted by timestamp ASC.
//
// It never fails: a nil, empty or non-array payload yields an empty series
// with HasData=false, and missing or malformed numeric fields become 0.
func Normalize(raw []byte, spec FieldSpec, chartType domain.ChartType) domain.Series {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return domain.EmptySeries(chartType)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return domain.EmptySeries(chartType)
	}

	points := make([]domain.TimePoint, 0, len(doc.Array()))
	doc.ForEach(func(_, rec gjson.Result) bool {
		points = append(points, domain.TimePoint{
			Timestamp: ParseTimestamp(firstField(rec, spec.TimeFields), spec.TimeUnit),
			Value:     ParseNumber(firstField(rec, spec.ValueFields)),
		})
		return true
	})

	return BuildSeries(points, chartType)
}

// NormalizeRecords is Normalize for payloads that were already decoded.
func NormalizeRecords(records []map[string]any, spec FieldSpec, chartType domain.ChartType) domain.Series {
	if records == nil {
		return domain.EmptySeries(chartType)
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return domain.EmptySeries(chartType)
	}
	return Normalize(raw, spec, chartType)
}

// NormalizeFundingTrend converts typed funding trend points into a series.
func NormalizeFundingTrend(trend []domain.FundingTrendPoint) domain.Series {
	points := make([]domain.TimePoint, 0, len(trend))
	for _, p := range trend {
		points = append(points, domain.TimePoint{
			Timestamp: ParseTimestampString(p.Datetime, Milliseconds),
			Value:     ParseNumericString(p.Funding),
		})
	}
	return BuildSeries(points, domain.ChartTypeEquity)
}

// BuildSeries sorts points and derives the trend flags.
// The input slice is sorted in place.
func BuildSeries(points []domain.TimePoint, chartType domain.ChartType) domain.Series {
	if len(points) == 0 {
		return domain.EmptySeries(chartType)
	}
	SortPoints(points)
	s := domain.Series{ChartType: chartType, Points: points}
	s.RefreshTrend()
	return s
}

// firstField returns the first alias present on rec.
func firstField(rec gjson.Result, aliases []string) gjson.Result {
	for _, name := range aliases {
		if v := rec.Get(name); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
