package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryCache is a bounded in-memory LRU cache with per-entry TTL.
//
// Recency ordering is a doubly linked list: every successful Get, Set
// or GetOrSet hit moves the entry to the front, so the list back is
// always the least recently used entry and eviction order among
// never-reaccessed entries is insertion order.
type MemoryCache[T any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	cfg     Config
	stats   Stats
	group   singleflight.Group
	stopCh  chan struct{}
	stopped atomic.Bool
}

// New creates a bounded LRU cache and starts its expiry sweep. Callers
// must Close the cache to stop the sweep timer.
func New[T any](cfg Config) *MemoryCache[T] {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	c := &MemoryCache[T]{
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	c.stats.MaxEntries = cfg.MaxEntries

	go c.sweepLoop()

	return c
}

// Get retrieves a value by key. An expired entry is removed, counted
// as a miss and an expiration, and reported as absent.
func (c *MemoryCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.count(&c.stats.Misses)
		return zero, false
	}

	entry := elem.Value.(*Entry[T])
	if entry.IsExpired(time.Now()) {
		c.removeElement(elem)
		c.count(&c.stats.Misses)
		c.count(&c.stats.Expirations)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	entry.HitCount++
	c.count(&c.stats.Hits)

	return entry.Value, true
}

// Set stores a value. When the cache is full and the key is new, the
// least recently used entry is evicted first. A zero ttl falls back to
// the configured DefaultTTL.
func (c *MemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	entry := &Entry[T]{
		Key:      key,
		Value:    value,
		StoredAt: time.Now(),
		TTL:      ttl,
		Size:     int64(len(key)) + approxSize(value) + entryOverhead,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*Entry[T])
		c.stats.ApproximateBytes += entry.Size - old.Size
		elem.Value = entry
		c.lru.MoveToFront(elem)
		c.count(&c.stats.Sets)
		return
	}

	for int64(len(c.items)) >= c.cfg.MaxEntries {
		c.evictOldest()
	}

	c.items[key] = c.lru.PushFront(entry)
	c.stats.Size++
	c.stats.ApproximateBytes += entry.Size
	c.count(&c.stats.Sets)
}

// Delete removes a key and reports whether it was present.
func (c *MemoryCache[T]) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}

	c.removeElement(elem)
	c.count(&c.stats.Deletes)
	return true
}

// Has reports whether a live entry exists. Expiry is applied here too:
// an expired entry is removed so that it stops occupying a slot.
func (c *MemoryCache[T]) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}

	entry := elem.Value.(*Entry[T])
	if entry.IsExpired(time.Now()) {
		c.removeElement(elem)
		c.count(&c.stats.Expirations)
		return false
	}
	return true
}

// GetOrSet returns the cached value when present, otherwise invokes
// producer, stores its result and returns it. The producer runs
// outside the cache lock, so it may safely call back into the cache.
// Concurrent callers for the same uncached key share one producer
// invocation.
func (c *MemoryCache[T]) GetOrSet(ctx context.Context, key string, producer func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the key while
		// this one waited on the flight group.
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, v, 0)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Stats returns a snapshot of the accumulated counters.
func (c *MemoryCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = int64(len(c.items))
	return s
}

// ResetStats zeroes all counters. Size and capacity are preserved.
func (c *MemoryCache[T]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	bytes := c.stats.ApproximateBytes
	c.stats = Stats{
		Size:             int64(len(c.items)),
		ApproximateBytes: bytes,
		MaxEntries:       c.cfg.MaxEntries,
	}
}

// Clear evicts everything. Accumulated statistics survive.
func (c *MemoryCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.stats.Size = 0
	c.stats.ApproximateBytes = 0
}

// Close stops the expiry sweep. It is safe to call more than once.
func (c *MemoryCache[T]) Close() error {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	return nil
}

// evictOldest removes the entry at the back of the recency list.
// Callers must hold c.mu.
func (c *MemoryCache[T]) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.count(&c.stats.Evictions)
}

// removeElement unlinks an entry from the map and the recency list.
// Callers must hold c.mu.
func (c *MemoryCache[T]) removeElement(elem *list.Element) {
	entry := elem.Value.(*Entry[T])
	delete(c.items, entry.Key)
	c.lru.Remove(elem)
	c.stats.Size--
	c.stats.ApproximateBytes -= entry.Size
}

// count increments a counter when stats are enabled. Callers must hold c.mu.
func (c *MemoryCache[T]) count(counter *int64) {
	if c.cfg.StatsEnabled {
		*counter++
	}
}

// sweepLoop periodically removes expired entries so memory stays
// bounded even when keys are never read again.
func (c *MemoryCache[T]) sweepLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes every expired entry in one pass.
func (c *MemoryCache[T]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element

	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*Entry[T]).IsExpired(now) {
			expired = append(expired, elem)
		}
	}

	for _, elem := range expired {
		c.removeElement(elem)
		c.count(&c.stats.Expirations)
	}
}
