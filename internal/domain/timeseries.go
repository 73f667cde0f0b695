package domain

// TimePoint is a single sample of a chart series.
// The timestamp unit is fixed per source; everything this service emits is in milliseconds.
type TimePoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	Candle    *Candle `json:"candle,omitempty"` // set only for kline series
}

// Candle is one OHLCV bar. Time is the candle open time in ms.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Series is a time-ascending list of points for one metric.
//
// IsPositive is nil when the series has no data; otherwise it reports
// whether the last value is >= the first value.
type Series struct {
	ChartType  ChartType   `json:"chartType"`
	Points     []TimePoint `json:"data"`
	HasData    bool        `json:"hasData"`
	IsPositive *bool       `json:"isPositive,omitempty"`
}

// EmptySeries returns a series with no data for the given chart type.
func EmptySeries(chartType ChartType) Series {
	return Series{ChartType: chartType, Points: []TimePoint{}}
}

// Positive reports the trend sign, false for an empty series.
func (s Series) Positive() bool {
	return s.IsPositive != nil && *s.IsPositive
}

// First returns the first point. Callers must check HasData.
func (s Series) First() TimePoint {
	return s.Points[0]
}

// Last returns the last point. Callers must check HasData.
func (s Series) Last() TimePoint {
	return s.Points[len(s.Points)-1]
}

// RefreshTrend recomputes HasData and IsPositive from Points.
func (s *Series) RefreshTrend() {
	s.HasData = len(s.Points) > 0
	if !s.HasData {
		s.IsPositive = nil
		return
	}
	positive := s.Last().Value >= s.First().Value
	s.IsPositive = &positive
}

// Clone returns a deep copy safe to hand to read-only consumers.
func (s Series) Clone() Series {
	out := s
	out.Points = make([]TimePoint, len(s.Points))
	for i, p := range s.Points {
		out.Points[i] = p
		if p.Candle != nil {
			c := *p.Candle
			out.Points[i].Candle = &c
		}
	}
	if s.IsPositive != nil {
		v := *s.IsPositive
		out.IsPositive = &v
	}
	return out
}
