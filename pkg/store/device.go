// Package store provides a quota-aware persistence layer partitioned
// by (feature, tenant). Writes that would exceed the device's fixed
// storage budget go through a degradation ladder (cleanup, compaction,
// essential-field extraction, minimal fallback) instead of failing
// outright, and tenant partitions are migrated once from the legacy
// shared location.
package store

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is raised by a Device when a write would exceed its
// fixed capacity. The device state is unchanged when it is returned.
var ErrQuotaExceeded = errors.New("write exceeds device storage quota")

// DeviceStats reports a device's capacity usage in bytes.
type DeviceStats struct {
	Used  int64
	Quota int64
}

// Available returns the estimated remaining headroom.
func (s DeviceStats) Available() int64 {
	if s.Quota <= 0 {
		return 0
	}
	if s.Used >= s.Quota {
		return 0
	}
	return s.Quota - s.Used
}

// Device is a capacity-bounded key-value store, the storage medium the
// scoped store writes into. Implementations enforce a hard byte quota
// on Set and have last-write-wins semantics; no transactions are
// assumed across keys.
type Device interface {
	// Get reads a value. The second return reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes a value, returning ErrQuotaExceeded when the write
	// would push usage past the quota.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)

	// Stats reports current usage against the quota.
	Stats(ctx context.Context) (DeviceStats, error)

	// Close releases the device handle.
	Close() error
}
