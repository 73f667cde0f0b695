package normalization

import (
	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
)

// NormalizeKlines converts a kline payload into a series whose points carry
// the full candle and use the close price as value.
//
// Two row layouts are accepted:
//   - exchange arrays: [openTime, "open", "high", "low", "close", "volume", ...]
//   - objects: {time|t, open|o, high|h, low|l, close|c, volume|v}
func NormalizeKlines(raw []byte) domain.Series {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return domain.EmptySeries(domain.ChartTypeKline)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return domain.EmptySeries(domain.ChartTypeKline)
	}

	var points []domain.TimePoint
	doc.ForEach(func(_, row gjson.Result) bool {
		c := CandleFromRow(row)
		points = append(points, domain.TimePoint{
			Timestamp: c.Time,
			Value:     c.Close,
			Candle:    &c,
		})
		return true
	})

	return BuildSeries(points, domain.ChartTypeKline)
}

// CandleFromRow decodes one kline row in either layout.
func CandleFromRow(row gjson.Result) domain.Candle {
	if row.IsArray() {
		cols := row.Array()
		col := func(i int) gjson.Result {
			if i < len(cols) {
				return cols[i]
			}
			return gjson.Result{}
		}
		return domain.Candle{
			Time:   ParseTimestamp(col(0), Milliseconds),
			Open:   ParseNumber(col(1)),
			High:   ParseNumber(col(2)),
			Low:    ParseNumber(col(3)),
			Close:  ParseNumber(col(4)),
			Volume: ParseNumber(col(5)),
		}
	}
	return domain.Candle{
		Time:   ParseTimestamp(firstField(row, []string{"time", "openTime", "t"}), Milliseconds),
		Open:   ParseNumber(firstField(row, []string{"open", "o"})),
		High:   ParseNumber(firstField(row, []string{"high", "h"})),
		Low:    ParseNumber(firstField(row, []string{"low", "l"})),
		Close:  ParseNumber(firstField(row, []string{"close", "c"})),
		Volume: ParseNumber(firstField(row, []string{"volume", "v"})),
	}
}
