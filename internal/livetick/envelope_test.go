package livetick

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-chart-lab/internal/domain"
)

func TestDecodeKlineEnvelope(t *testing.T) {
	raw := []byte(`{"e":"kline","E":1700000001000,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"100.5","h":"101","l":"99.5","c":"100.75","v":"12.5","x":false}}`)

	u, err := DecodeKlineEnvelope(raw)

	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", u.Symbol)
	assert.Equal(t, "1m", u.Interval)
	assert.False(t, u.Final)
	assert.Equal(t, domain.Candle{
		Time: 1700000000000, Open: 100.5, High: 101, Low: 99.5, Close: 100.75, Volume: 12.5,
	}, u.Candle)
}

func TestDecodeKlineEnvelope_CombinedStream(t *testing.T) {
	raw := []byte(`{"stream":"ethusdt@kline_5m","data":{"e":"kline","s":"ETHUSDT","k":{"t":1000,"i":"5m","o":"1","h":"3","l":"1","c":"2","x":true}}}`)

	u, err := DecodeKlineEnvelope(raw)

	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", u.Symbol)
	assert.True(t, u.Final)
	assert.Equal(t, 2.0, u.Candle.Close)
	assert.Equal(t, 0.0, u.Candle.Volume, "missing volume is zero")
}

func TestDecodeKlineEnvelope_Malformed(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte(`not json`),
		[]byte(`{"result":null,"id":1}`),
		[]byte(`{"k":{"o":"1","h":"1","l":"1","c":"1"}}`),
		[]byte(`{"k":{"t":1000,"o":"1","h":"2","l":"0.5","c":"garbage","v":"10"}}`),
		[]byte(`{"k":{"t":1000,"o":"1","h":"2","l":"0.5","v":"10"}}`),
		[]byte(`{"k":{"t":1000,"o":"1","h":null,"l":"0.5","c":"1.5"}}`),
		[]byte(`{"k":{"t":1000,"o":"1","h":"2","l":"0.5","c":true}}`),
	}

	for _, raw := range inputs {
		_, err := DecodeKlineEnvelope(raw)
		assert.ErrorIs(t, err, ErrMalformedEnvelope, "input %q", raw)
	}
}

func TestApplySafely(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	assert.True(t, ApplySafely(logger, func() error { return nil }))

	assert.False(t, ApplySafely(logger, func() error { return errors.New("bad tick") }))
	assert.Contains(t, buf.String(), "bad tick")

	assert.False(t, ApplySafely(logger, func() error {
		var s *domain.Series
		_ = s.Points[0] // nil dereference
		return nil
	}))
	assert.Contains(t, buf.String(), "panic")

	// Later ticks still run.
	assert.True(t, ApplySafely(logger, func() error { return nil }))
}
