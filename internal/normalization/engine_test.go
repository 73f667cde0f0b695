package normalization

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-chart-lab/internal/domain"
)

func TestNormalize_SortsAscending(t *testing.T) {
	raw := []byte(`[
		{"timestamp": 3000, "value": 3},
		{"timestamp": 1000, "value": 1},
		{"timestamp": 2000, "value": 2}
	]`)

	s := Normalize(raw, DefaultFieldSpec, domain.ChartTypePNL)

	require.True(t, s.HasData)
	require.Len(t, s.Points, 3)
	assert.True(t, IsSorted(s.Points))
	assert.Equal(t, int64(1000), s.First().Timestamp)
	assert.Equal(t, int64(3000), s.Last().Timestamp)
	assert.Equal(t, domain.ChartTypePNL, s.ChartType)
}

func TestNormalize_ShuffleInvariant(t *testing.T) {
	records := make([]map[string]any, 0, 50)
	for i := 0; i < 50; i++ {
		records = append(records, map[string]any{"timestamp": int64(i * 1000), "value": float64(i) * 1.5})
	}

	want := NormalizeRecords(records, DefaultFieldSpec, domain.ChartTypeEquity)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 10; round++ {
		shuffled := append([]map[string]any{}, records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := NormalizeRecords(shuffled, DefaultFieldSpec, domain.ChartTypeEquity)
		assert.Equal(t, want, got, "round %d", round)
	}
}

func TestNormalize_StableOnTies(t *testing.T) {
	raw := []byte(`[
		{"timestamp": 2000, "value": 1},
		{"timestamp": 1000, "value": 9},
		{"timestamp": 2000, "value": 2},
		{"timestamp": 2000, "value": 3}
	]`)

	s := Normalize(raw, DefaultFieldSpec, domain.ChartTypePNL)

	values := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		values = append(values, p.Value)
	}
	assert.Equal(t, []float64{9, 1, 2, 3}, values)
}

func TestNormalize_TrendSign(t *testing.T) {
	tests := []struct {
		name  string
		first float64
		last  float64
		want  bool
	}{
		{"rising", 10, 20, true},
		{"falling", 20, 10, false},
		{"flat", 15, 15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []map[string]any{
				{"timestamp": 1, "value": tt.first},
				{"timestamp": 2, "value": 5},
				{"timestamp": 3, "value": tt.last},
			}
			s := NormalizeRecords(records, DefaultFieldSpec, domain.ChartTypePNL)
			require.NotNil(t, s.IsPositive)
			assert.Equal(t, tt.want, *s.IsPositive)
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	inputs := map[string][]byte{
		"nil":       nil,
		"empty":     {},
		"null":      []byte("null"),
		"array":     []byte("[]"),
		"object":    []byte(`{"data": []}`),
		"malformed": []byte(`[{"timestamp":`),
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			s := Normalize(raw, DefaultFieldSpec, domain.ChartTypePNL)
			assert.False(t, s.HasData)
			assert.Nil(t, s.IsPositive)
			assert.NotNil(t, s.Points)
			assert.Empty(t, s.Points)
		})
	}

	s := NormalizeRecords(nil, DefaultFieldSpec, domain.ChartTypePNL)
	assert.False(t, s.HasData)
}

func TestNormalize_EmptySeriesJSON(t *testing.T) {
	out, err := json.Marshal(Normalize(nil, DefaultFieldSpec, domain.ChartTypePNL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"chartType":"pnl","data":[],"hasData":false}`, string(out))
}

func TestNormalize_CoercesMalformedFields(t *testing.T) {
	raw := []byte(`[
		{"timestamp": 1000, "value": "123.45"},
		{"timestamp": 2000, "value": "abc"},
		{"timestamp": 3000},
		{"timestamp": 4000, "value": null},
		{"timestamp": 5000, "value": true}
	]`)

	s := Normalize(raw, DefaultFieldSpec, domain.ChartTypePNL)

	require.Len(t, s.Points, 5)
	assert.InDelta(t, 123.45, s.Points[0].Value, 1e-9)
	for _, p := range s.Points[1:] {
		assert.Equal(t, 0.0, p.Value, "ts=%d", p.Timestamp)
	}
}

func TestNormalize_MissingTimestampSortsFirst(t *testing.T) {
	raw := []byte(`[{"timestamp": 1000, "value": 1}, {"value": 2}]`)

	s := Normalize(raw, DefaultFieldSpec, domain.ChartTypePNL)

	require.Len(t, s.Points, 2)
	assert.Equal(t, int64(0), s.Points[0].Timestamp)
	assert.Equal(t, 2.0, s.Points[0].Value)
}

func TestNormalize_FundingFieldFamily(t *testing.T) {
	raw := []byte(`[
		{"datetime": "2024-01-02T00:00:00Z", "funding": "110.5"},
		{"datetime": "2024-01-01T00:00:00Z", "funding": "100"}
	]`)

	s := Normalize(raw, SpecFor(domain.SourceFundingTrend, ""), domain.ChartTypeEquity)

	require.Len(t, s.Points, 2)
	assert.Equal(t, int64(1704067200000), s.Points[0].Timestamp)
	assert.Equal(t, 100.0, s.Points[0].Value)
	assert.Equal(t, 110.5, s.Points[1].Value)
	assert.True(t, s.Positive())
}

func TestNormalize_SecondsUnit(t *testing.T) {
	spec := DefaultFieldSpec
	spec.TimeUnit = Seconds

	s := Normalize([]byte(`[{"timestamp": 1700000000, "value": 1}]`), spec, domain.ChartTypePNL)

	require.Len(t, s.Points, 1)
	assert.Equal(t, int64(1700000000000), s.Points[0].Timestamp)
}

func TestSpecFor_BalanceHistoryPrefersChartColumn(t *testing.T) {
	raw := []byte(`[{"timestamp": 1, "value": 5, "pnl": 7, "equity": 9}]`)

	pnl := Normalize(raw, SpecFor(domain.SourceVaultBalance, domain.ChartTypePNL), domain.ChartTypePNL)
	equity := Normalize(raw, SpecFor(domain.SourceVaultBalance, domain.ChartTypeEquity), domain.ChartTypeEquity)
	tvl := Normalize(raw, SpecFor(domain.SourceVaultBalance, domain.ChartTypeTVL), domain.ChartTypeTVL)

	assert.Equal(t, 7.0, pnl.Points[0].Value)
	assert.Equal(t, 9.0, equity.Points[0].Value)
	assert.Equal(t, 5.0, tvl.Points[0].Value, "falls back to value")
}

func TestNormalizeFundingTrend(t *testing.T) {
	s := NormalizeFundingTrend([]domain.FundingTrendPoint{
		{Datetime: "2024-01-01T00:01:00Z", Funding: "90"},
		{Datetime: "2024-01-01T00:00:00Z", Funding: "100"},
	})

	require.Len(t, s.Points, 2)
	assert.Equal(t, 100.0, s.First().Value)
	assert.False(t, s.Positive())
}
