package normalization

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// TimeUnit is the unit a source reports numeric timestamps in.
type TimeUnit int

const (
	Milliseconds TimeUnit = iota
	Seconds
)

// isoLayouts are tried in order for string timestamps that are not plain integers.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseNumber coerces a JSON number or numeric string to float64.
// Anything else (missing, null, malformed) yields 0.
func ParseNumber(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return ParseNumericString(v.Str)
	}
	return 0
}

// ParseNumericString parses a decimal string such as "123.45" exactly before
// converting to float64. Malformed input yields 0.
func ParseNumericString(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// ParseDecimal is ParseNumericString without the float conversion.
func ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseTimestamp converts a numeric, numeric-string or ISO-8601 timestamp
// to epoch milliseconds. Unparseable values yield 0.
func ParseTimestamp(v gjson.Result, unit TimeUnit) int64 {
	switch v.Type {
	case gjson.Number:
		return scale(v.Int(), unit)
	case gjson.String:
		return ParseTimestampString(v.Str, unit)
	}
	return 0
}

// ParseTimestampString is ParseTimestamp for a raw string.
func ParseTimestampString(s string, unit TimeUnit) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return scale(d.IntPart(), unit)
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func scale(ts int64, unit TimeUnit) int64 {
	if unit == Seconds {
		return ts * 1000
	}
	return ts
}
