package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient(url,
		WithKlineURL(url),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
}

func TestClient_FetchVaultBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vaults/v1/balance-history", r.URL.Path)
		assert.Equal(t, "7D", r.URL.Query().Get("timeRange"))
		assert.Equal(t, "pnl", r.URL.Query().Get("chartType"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"timestamp":1,"pnl":"2"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	raw, err := client.Fetch(context.Background(), domain.QueryKey{
		Source: domain.SourceVaultBalance, TargetID: "v1", TimeRange: domain.TimeRange7D, ChartType: domain.ChartTypePNL,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"timestamp":1,"pnl":"2"}]`, string(raw))
}

func TestClient_FetchPlainArrayAndNullData(t *testing.T) {
	var body atomic.Value
	body.Store(`[1,2]`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	key := domain.QueryKey{Source: domain.SourceFundingTrend, TargetID: "bt-1"}

	raw, err := client.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(raw))

	body.Store(`{"data":null}`)
	raw, err = client.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClient_FetchKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.URL.Query().Get("startTime"))
		w.Write([]byte(`[[1000,"1","2","0.5","1.5","10"]]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	raw, err := client.Fetch(context.Background(), domain.QueryKey{
		Source: domain.SourceKline, Symbol: "BTCUSDT", Interval: "1h", TimeRange: domain.TimeRange1D,
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "1000")
}

func TestClient_FetchKlineRangePages(t *testing.T) {
	var (
		mu     sync.Mutex
		starts []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5000000", q.Get("endTime"))
		assert.Equal(t, "1000", q.Get("limit"))

		mu.Lock()
		starts = append(starts, q.Get("startTime"))
		page := len(starts)
		mu.Unlock()

		if page == 1 {
			rows := make([]string, KlinePageLimit)
			for i := range rows {
				rows[i] = fmt.Sprintf(`[%d,"1","1","1","1","1"]`, 1000+i*1000)
			}
			w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
			return
		}
		w.Write([]byte(`[[2000000,"2","2","2","2","1"],[3000000,"3","3","3","3","1"]]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	raw, err := client.Fetch(context.Background(), domain.QueryKey{
		Source: domain.SourceKline, Symbol: "BTCUSDT", Interval: "1h", Start: 1000, End: 5_000_000,
	})
	require.NoError(t, err)

	rows := gjson.ParseBytes(raw).Array()
	require.Len(t, rows, KlinePageLimit+2)
	assert.Equal(t, int64(1000), rows[0].Get("0").Int())
	assert.Equal(t, int64(3000000), rows[len(rows)-1].Get("0").Int())
	assert.Equal(t, []string{"1000", "1000001"}, starts)
}

func TestClient_FetchKlineRangeOpenEnd(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "7000", r.URL.Query().Get("startTime"))
		assert.Empty(t, r.URL.Query().Get("endTime"))
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	raw, err := client.Fetch(context.Background(), domain.QueryKey{
		Source: domain.SourceKline, Symbol: "BTCUSDT", Interval: "1h", Start: 7000,
	})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	raw, err := client.Fetch(context.Background(), domain.QueryKey{Source: domain.SourceStrategyBalance, TargetID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(raw))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.Fetch(context.Background(), domain.QueryKey{Source: domain.SourceVaultBalance, TargetID: "v1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`vault not found`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Fetch(context.Background(), domain.QueryKey{Source: domain.SourceVaultBalance, TargetID: "missing"})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UnsupportedKeys(t *testing.T) {
	client := NewClient("http://localhost")

	_, err := client.Fetch(context.Background(), domain.QueryKey{Source: "orders"})
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = client.Fetch(context.Background(), domain.QueryKey{Source: domain.SourceKline, Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = client.Fetch(context.Background(), domain.QueryKey{Source: domain.SourceVaultBalance})
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, domain.QueryKey{Source: domain.SourceVaultBalance, TargetID: "v1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
