package cache

import (
	"fmt"
	"sync"
)

// handle is the type-erased view the registry keeps of each cache.
type handle interface {
	Stats() Stats
	Clear()
	Close() error
}

// Registry is a directory of named cache instances, each with its own
// policy, created lazily on first lookup and shared for the process
// lifetime. It is an explicit object rather than a package global so
// lifetime and test isolation stay in the caller's hands.
type Registry struct {
	mu     sync.Mutex
	caches map[string]handle
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]handle)}
}

// Lookup returns the cache registered under name, creating it with cfg
// on first use. A zero cfg means DefaultConfig. The same name always
// yields the same instance; reusing a name with a different value type
// is a caller bug and fails fast.
func Lookup[T any](r *Registry, name string, cfg Config) (*MemoryCache[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if existing, ok := r.caches[name]; ok {
		typed, ok := existing.(*MemoryCache[T])
		if !ok {
			return nil, fmt.Errorf("cache %q: %w", name, ErrTypeMismatch)
		}
		return typed, nil
	}

	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	c := New[T](cfg)
	r.caches[name] = c
	return c, nil
}

// AllStats returns a snapshot of every registered cache's counters,
// keyed by cache name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.caches))
	for name, c := range r.caches {
		out[name] = c.Stats()
	}
	return out
}

// ClearAll evicts every entry from every registered cache. Instances
// and their statistics survive.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.caches {
		c.Clear()
	}
}

// Shutdown closes every registered cache, stopping their sweep timers.
// The registry rejects lookups afterwards. Required before process
// exit to avoid leaking timers.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, c := range r.caches {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.caches = make(map[string]handle)
	r.closed = true
	return firstErr
}
