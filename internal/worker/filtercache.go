package worker

import (
	"sync"
	"time"
)

// filterCache caches compiled representations of a SearchRequest's Filter
// string, keyed by the filter text itself. Expiry is access-based: every
// Get extends the entry's lifetime, so a filter in steady use never falls
// out of cache even if its absolute TTL would otherwise have elapsed.
//
// The pack carries no general-purpose in-process LRU/TTL cache dependency
// (searched: nothing in the example repos exposes one as a library rather
// than an inlined helper), so this is a small hand-rolled cache rather than
// an imported one; see DESIGN.md for the justification.
type filterCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*filterEntry

	hits   func()
	misses func()
}

type filterEntry struct {
	value     any
	expiresAt time.Time
}

func newFilterCache(capacity int, ttl time.Duration, hits, misses func()) *filterCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &filterCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*filterEntry),
		hits:     hits,
		misses:   misses,
	}
}

// GetOrCompile returns the cached value for key, refreshing its expiry, or
// calls build to populate the cache if key is absent or has expired.
func (c *filterCache) GetOrCompile(key string, build func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		e.expiresAt = now.Add(c.ttl)
		if c.hits != nil {
			c.hits()
		}
		return e.value
	}
	if c.misses != nil {
		c.misses()
	}

	value := build()
	if len(c.entries) >= c.capacity {
		c.evictOneLocked()
	}
	c.entries[key] = &filterEntry{value: value, expiresAt: now.Add(c.ttl)}
	return value
}

// evictOneLocked drops one entry to make room for a new one. With capacity
// held at the configured 1000 this runs rarely enough that an arbitrary
// victim (rather than true least-recently-used bookkeeping) is an
// acceptable simplification.
func (c *filterCache) evictOneLocked() {
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

// sweepExpired removes every entry past its expiry. Nothing in the Worker
// calls it on a schedule; an expired entry otherwise stays in the map until
// its key is looked up again or capacity eviction removes it.
func (c *filterCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
