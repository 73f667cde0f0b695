package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-chart-lab/internal/domain"
)

var testKey = domain.QueryKey{Source: domain.SourceVaultBalance, TargetID: "v1", TimeRange: domain.TimeRange7D, ChartType: domain.ChartTypePNL}

func TestCache_DeduplicatesConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := FetcherFunc(func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`[1]`), nil
	})
	cache := New(fetcher)

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := cache.Get(context.Background(), testKey)
			assert.NoError(t, err)
			results[i] = raw
		}(i)
	}

	// Let the goroutines join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, raw := range results {
		assert.Equal(t, `[1]`, string(raw))
	}
}

func TestCache_ServesFreshEntry(t *testing.T) {
	var calls atomic.Int32
	now := time.Unix(1000, 0)
	fetcher := FetcherFunc(func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		calls.Add(1)
		return []byte(`[]`), nil
	})
	cache := New(fetcher, WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	_, err := cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	cache.Invalidate(testKey)
	_, err = cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCache_ErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("upstream down")
		}
		return []byte(`[]`), nil
	})
	cache := New(fetcher)

	_, err := cache.Get(context.Background(), testKey)
	assert.Error(t, err)

	raw, err := cache.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(raw))
}

func TestCache_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fetcher := FetcherFunc(func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		<-release
		return []byte(`[]`), nil
	})
	cache := New(fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Get(ctx, testKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_SubscribeReceivesRefresh(t *testing.T) {
	var n atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		n.Add(1)
		return []byte(`[` + string(rune('0'+n.Load())) + `]`), nil
	})
	cache := New(fetcher)

	var got []string
	unsubscribe := cache.Subscribe(testKey, func(raw []byte, err error) {
		require.NoError(t, err)
		got = append(got, string(raw))
	})

	require.NoError(t, cache.Refresh(context.Background(), testKey))
	require.NoError(t, cache.Refresh(context.Background(), testKey))
	assert.Equal(t, []string{"[1]", "[2]"}, got)
	assert.Equal(t, []domain.QueryKey{testKey}, cache.Keys())

	unsubscribe()
	unsubscribe()
	require.NoError(t, cache.Refresh(context.Background(), testKey))
	assert.Len(t, got, 2)
	assert.Empty(t, cache.Keys())
}
