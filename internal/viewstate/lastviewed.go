package viewstate

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LastViewed remembers when each agent was last viewed.
//
// Entries are bounded: past maxEntries the cache's admission policy evicts
// the least valuable ids.
type LastViewed struct {
	cache *ristretto.Cache
}

// DefaultLastViewedEntries bounds the tracker when no size is configured.
const DefaultLastViewedEntries = 10000

// NewLastViewed creates a tracker holding at most maxEntries ids.
func NewLastViewed(maxEntries int64) (*LastViewed, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultLastViewedEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Each entry costs 1, so MaxCost is an entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create last-viewed cache: %w", err)
	}
	return &LastViewed{cache: cache}, nil
}

// Touch records that id was viewed at ts. A write dropped by the cache's
// buffers or refused by its admission policy is retried once; Touch reports
// whether ts is stored.
func (l *LastViewed) Touch(id string, ts time.Time) bool {
	ms := ts.UnixMilli()
	for attempt := 0; attempt < 2; attempt++ {
		l.cache.Set(id, ms, 1)
		l.cache.Wait()
		if v, ok := l.cache.Get(id); ok && v == ms {
			return true
		}
	}
	return false
}

// Get returns when id was last viewed.
func (l *LastViewed) Get(id string) (time.Time, bool) {
	v, ok := l.cache.Get(id)
	if !ok {
		return time.Time{}, false
	}
	ms, ok := v.(int64)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Forget drops id.
func (l *LastViewed) Forget(id string) {
	l.cache.Del(id)
	l.cache.Wait()
}

// Close releases the cache's background goroutines.
func (l *LastViewed) Close() {
	l.cache.Close()
}
