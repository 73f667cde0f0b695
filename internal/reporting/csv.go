package reporting

import (
	"fmt"
	"strings"

	"agent-chart-lab/internal/domain"
)

// RenderComparisonCSV renders comparison records as CSV string.
func RenderComparisonCSV(records []domain.ComparisonRecord) string {
	var sb strings.Builder

	// Header
	sb.WriteString("time,equity,hold,original_equity,is_intersection\n")

	// Rows
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("%d,%.6f,%.6f,%.6f,%t\n",
			r.Time,
			r.Equity,
			r.Hold,
			r.OriginalEquity,
			r.IsIntersection,
		))
	}

	return sb.String()
}

// RenderSeriesCSV renders a series as CSV string. Candle columns are
// filled only for kline series.
func RenderSeriesCSV(s domain.Series) string {
	var sb strings.Builder

	sb.WriteString("timestamp,value,open,high,low,close,volume\n")

	for _, p := range s.Points {
		if c := p.Candle; c != nil {
			sb.WriteString(fmt.Sprintf("%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				p.Timestamp, p.Value, c.Open, c.High, c.Low, c.Close, c.Volume))
			continue
		}
		sb.WriteString(fmt.Sprintf("%d,%.6f,,,,,\n", p.Timestamp, p.Value))
	}

	return sb.String()
}
