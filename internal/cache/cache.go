// Package cache is a small in-memory memo with LRU eviction, TTL expiry and
// collapsed concurrent loads.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache maps string keys to values of type V. Failed loads are never
// stored.
type Cache[V any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	evictList  *list.List
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	stats      Stats

	group singleflight.Group
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache holding at most maxEntries values for ttl each.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache[V]{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        o.now,
	}
}

// Get returns the value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(el)
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.evictList.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key for the cache TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = exp
		c.evictList.MoveToFront(el)
		return
	}
	c.items[key] = c.evictList.PushFront(&entry[V]{key: key, value: value, expiresAt: exp})
	for c.evictList.Len() > c.maxEntries {
		c.removeLocked(c.evictList.Back())
		c.stats.Evictions++
	}
}

// GetOrLoad returns the cached value for key or runs load to produce it.
// Concurrent callers for one key share a single load. The load runs
// detached from any one caller's cancellation; a caller whose ctx ends
// stops waiting and gets ctx.Err().
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		c.stats.Loads++
		c.mu.Unlock()

		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.items)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.evictList.Remove(el)
}
