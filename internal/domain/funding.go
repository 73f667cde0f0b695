package domain

// FundingTrendPoint is one sample of a backtest funding trend as returned by the API.
type FundingTrendPoint struct {
	Datetime string `json:"datetime"` // ISO-8601
	Funding  string `json:"funding"`  // numeric string
}

// ComparisonRecord is one row of an equity-vs-hold comparison chart.
// Intersection records are synthetic zero crossings and carry no hit-testing data.
type ComparisonRecord struct {
	Time           int64   `json:"time"`
	Equity         float64 `json:"equity"`
	Hold           float64 `json:"hold"`
	OriginalEquity float64 `json:"originalEquity"`
	IsIntersection bool    `json:"isIntersection"`
}
