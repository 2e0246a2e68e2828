// Package cache provides bounded in-memory caching for ephemeral,
// process-lifetime data. Caches are capacity-limited with strict LRU
// eviction, entries carry a TTL, and every instance accumulates
// hit/miss statistics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrTypeMismatch is returned when a registry name is reused with a
	// different value type.
	ErrTypeMismatch = errors.New("cache registered with a different value type")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache is closed")
)

// Cache defines the contract implemented by *MemoryCache.
type Cache[T any] interface {
	// Get retrieves a value by key. Expired entries are removed and
	// reported as a miss.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores a value. A zero ttl falls back to DefaultTTL.
	Set(ctx context.Context, key string, value T, ttl time.Duration)

	// Delete removes a key and reports whether it was present.
	Delete(ctx context.Context, key string) bool

	// Has reports whether a live entry exists. An expired entry is
	// removed and reported as absent.
	Has(ctx context.Context, key string) bool

	// GetOrSet returns the cached value or invokes producer once,
	// stores the result and returns it. Concurrent callers for the
	// same key share a single producer invocation.
	GetOrSet(ctx context.Context, key string, producer func(context.Context) (T, error)) (T, error)

	// Stats returns a point-in-time snapshot of the counters.
	Stats() Stats

	// ResetStats zeroes the accumulated counters.
	ResetStats()

	// Clear evicts every entry without resetting statistics.
	Clear()

	// Close stops the periodic expiry sweep.
	Close() error
}

// Stats holds accumulated cache counters plus derived values.
type Stats struct {
	// Hits is the number of successful retrievals.
	Hits int64

	// Misses is the number of failed retrievals, including reads of
	// expired entries.
	Misses int64

	// Sets is the number of writes.
	Sets int64

	// Deletes is the number of explicit deletions.
	Deletes int64

	// Evictions is the number of entries removed by capacity pressure.
	Evictions int64

	// Expirations is the number of entries removed because their TTL
	// elapsed.
	Expirations int64

	// Size is the current number of entries.
	Size int64

	// ApproximateBytes is a rough estimate of the memory held by keys
	// and values.
	ApproximateBytes int64

	// MaxEntries is the configured capacity.
	MaxEntries int64
}

// HitRate returns hits/(hits+misses) as a percentage, 0 when no reads
// have happened.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Config holds cache configuration. It is immutable for the lifetime
// of a cache instance.
type Config struct {
	// MaxEntries is the maximum number of entries (0 = DefaultConfig value).
	MaxEntries int64

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration

	// CleanupInterval is how often the background sweep removes
	// expired entries. Zero falls back to the default interval.
	CleanupInterval time.Duration

	// StatsEnabled controls whether counters are recorded.
	StatsEnabled bool
}

// DefaultConfig returns the documented defaults: 1000 entries, 5 minute
// TTL, 1 minute sweep.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
		StatsEnabled:    true,
	}
}

// Entry is a cached item. Entries are owned by the cache that created
// them and are destroyed on eviction, expiry or explicit delete.
type Entry[T any] struct {
	Key      string
	Value    T
	StoredAt time.Time
	TTL      time.Duration
	HitCount int64
	Size     int64
}

// IsExpired reports whether the entry's age exceeds its TTL at the
// given instant. A zero TTL never expires.
func (e Entry[T]) IsExpired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) > e.TTL
}

const entryOverhead = 96

// approxSize estimates the in-memory footprint of a value. Byte slices
// and strings are measured directly; everything else is estimated from
// its JSON encoding.
func approxSize(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case []byte:
		return int64(len(val))
	case string:
		return int64(len(val))
	case json.RawMessage:
		return int64(len(val))
	default:
		if data, err := json.Marshal(val); err == nil {
			return int64(len(data))
		}
		return entryOverhead
	}
}
