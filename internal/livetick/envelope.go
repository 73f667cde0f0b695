package livetick

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/normalization"
)

// ErrMalformedEnvelope is returned when a stream message carries no kline.
var ErrMalformedEnvelope = errors.New("malformed kline envelope")

// KlineUpdate is one decoded stream message.
type KlineUpdate struct {
	Symbol   string
	Interval string
	Final    bool // candle closed
	Candle   domain.Candle
}

// DecodeKlineEnvelope decodes an exchange kline socket message:
//
//	{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"i":"1m","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":false}}
//
// Combined-stream messages ({"stream":..., "data":{...}}) are unwrapped.
// Open, high, low and close must be present and numeric; volume defaults to 0.
func DecodeKlineEnvelope(raw []byte) (KlineUpdate, error) {
	if !gjson.ValidBytes(raw) {
		return KlineUpdate{}, fmt.Errorf("%w: invalid json", ErrMalformedEnvelope)
	}
	doc := gjson.ParseBytes(raw)
	if data := doc.Get("data"); data.IsObject() {
		doc = data
	}

	k := doc.Get("k")
	if !k.IsObject() {
		return KlineUpdate{}, fmt.Errorf("%w: missing k", ErrMalformedEnvelope)
	}
	t := k.Get("t")
	if !t.Exists() {
		return KlineUpdate{}, fmt.Errorf("%w: missing k.t", ErrMalformedEnvelope)
	}
	for _, field := range []string{"o", "h", "l", "c"} {
		if !isNumeric(k.Get(field)) {
			return KlineUpdate{}, fmt.Errorf("%w: k.%s not numeric", ErrMalformedEnvelope, field)
		}
	}

	symbol := doc.Get("s").String()
	if symbol == "" {
		symbol = k.Get("s").String()
	}

	return KlineUpdate{
		Symbol:   symbol,
		Interval: k.Get("i").String(),
		Final:    k.Get("x").Bool(),
		Candle:   normalization.CandleFromRow(k),
	}, nil
}

func isNumeric(v gjson.Result) bool {
	switch v.Type {
	case gjson.Number:
		return true
	case gjson.String:
		_, err := decimal.NewFromString(v.Str)
		return err == nil
	}
	return false
}
