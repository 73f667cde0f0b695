// Package querycache is the remote data cache between the upstream API and
// chart widgets: fresh entries are served from memory, concurrent requests
// for one key share a single fetch, and subscribers receive every refresh.
package querycache

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/observability"
)

// DefaultTTL is how long a fetched payload is served without refetching.
const DefaultTTL = 60 * time.Second

// Fetcher loads the raw payload for a key from the remote API.
type Fetcher interface {
	Fetch(ctx context.Context, key domain.QueryKey) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key domain.QueryKey) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key domain.QueryKey) ([]byte, error) {
	return f(ctx, key)
}

type entry struct {
	raw       []byte
	fetchedAt time.Time
}

type subscription struct {
	key domain.QueryKey
	fn  func(raw []byte, err error)
}

// Cache deduplicates and caches fetches per QueryKey.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *log.Logger
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
	subs    map[string]map[uint64]subscription
	nextID  uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window. Zero disables caching; deduplication
// of in-flight requests still applies.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a cache over fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]entry),
		subs:    make(map[string]map[uint64]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(log.Writer(), "[cache] ", log.LstdFlags)
	}
	return c
}

// Get returns the payload for key, fetching it when no fresh entry exists.
// Callers must not modify the returned slice.
func (c *Cache) Get(ctx context.Context, key domain.QueryKey) ([]byte, error) {
	source := string(key.Source)
	if raw, ok := c.fresh(key.String()); ok {
		observability.RecordCacheRequest(source, "hit")
		return raw, nil
	}

	raw, shared, err := c.fetch(ctx, key)
	if shared {
		observability.RecordCacheRequest(source, "shared")
	} else {
		observability.RecordCacheRequest(source, "miss")
	}
	return raw, err
}

// Refresh refetches key regardless of freshness and pushes the result to
// its subscribers.
func (c *Cache) Refresh(ctx context.Context, key domain.QueryKey) error {
	raw, _, err := c.fetch(ctx, key)
	c.notify(key, raw, err)
	return err
}

// Invalidate drops the cached entry for key.
func (c *Cache) Invalidate(key domain.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
}

// Subscribe registers fn for every refresh of key. Each delivery is a full
// snapshot of the payload.
func (c *Cache) Subscribe(key domain.QueryKey, fn func(raw []byte, err error)) (unsubscribe func()) {
	k := key.String()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[k] == nil {
		c.subs[k] = make(map[uint64]subscription)
	}
	c.subs[k][id] = subscription{key: key, fn: fn}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[k], id)
			if len(c.subs[k]) == 0 {
				delete(c.subs, k)
			}
		})
	}
}

// Keys returns the subscribed keys in a stable order.
func (c *Cache) Keys() []domain.QueryKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]domain.QueryKey, 0, len(c.subs))
	for _, subs := range c.subs {
		for _, s := range subs {
			keys = append(keys, s.key)
			break
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (c *Cache) fresh(k string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[k]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.raw, true
}

// fetch runs one deduplicated upstream request. The shared request is not
// tied to any single caller's cancellation; each caller stops waiting when
// its own context is done.
func (c *Cache) fetch(ctx context.Context, key domain.QueryKey) ([]byte, bool, error) {
	k := key.String()
	ch := c.group.DoChan(k, func() (interface{}, error) {
		start := time.Now()
		raw, err := c.fetcher.Fetch(context.WithoutCancel(ctx), key)
		observability.RecordFetch(string(key.Source), time.Since(start).Seconds(), err)
		if err != nil {
			c.logger.Printf("fetch %s: %v", key, err)
			return nil, err
		}

		c.mu.Lock()
		c.entries[k] = entry{raw: raw, fetchedAt: c.now()}
		c.mu.Unlock()
		return raw, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) notify(key domain.QueryKey, raw []byte, err error) {
	c.mu.RLock()
	subs := make([]func([]byte, error), 0, len(c.subs[key.String()]))
	for _, s := range c.subs[key.String()] {
		subs = append(subs, s.fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(raw, err)
	}
}
