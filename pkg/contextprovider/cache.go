package contextprovider

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes query results for one synthesis pass. Failures are cached
// like successes, except those produced after the caller's context ended. Concurrent callers with the same key share one plugin call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Result
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a snapshot of cache activity since the last Reset.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Result)}
}

// GetOrResolve returns the stored result for q, invoking plugin only if no
// result is stored yet.
func (c *Cache) GetOrResolve(ctx context.Context, q Query, plugin Plugin) Result {
	r, _ := c.getOrResolve(ctx, q, plugin.Lookup)
	return r
}

// getOrResolve reports whether the result came from the cache.
func (c *Cache) getOrResolve(ctx context.Context, q Query, lookup func(context.Context, Query) Result) (Result, bool) {
	key := q.Key()

	if r, ok := c.get(key); ok {
		c.hits.Add(1)
		return r, true
	}

	called := false
	v, _, _ := c.group.Do(key, func() (any, error) {
		// Double-check: another flight may have stored it since our read.
		if r, ok := c.get(key); ok {
			return r, nil
		}
		called = true
		r := lookup(ctx, q)
		// A result produced after the caller gave up says nothing about the remote.
		if ctx.Err() != nil {
			return r, nil
		}

		c.mu.Lock()
		c.entries[key] = r
		c.mu.Unlock()
		return r, nil
	})

	if called {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(Result), !called
}

func (c *Cache) get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

// Peek returns the stored result for q without resolving it.
func (c *Cache) Peek(q Query) (Result, bool) {
	return c.get(q.Key())
}

// Reset drops every stored result. Call it at the start of each pass.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]Result)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of stored results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
