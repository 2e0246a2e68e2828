package store

import (
	"context"
	"sort"
	"sync"
)

// DefaultQuota mirrors the storage budget of the small embedded
// devices this layer targets: 8MB.
const DefaultQuota = 8 << 20

// MemoryDevice is a map-backed Device with the same quota contract as
// the persistent backends. It is the reference implementation and the
// device used in tests and embedded callers.
type MemoryDevice struct {
	mu    sync.Mutex
	quota int64
	used  int64
	items map[string][]byte
}

// NewMemoryDevice creates a memory device with the given byte quota.
// A non-positive quota falls back to DefaultQuota.
func NewMemoryDevice(quota int64) *MemoryDevice {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &MemoryDevice{
		quota: quota,
		items: make(map[string][]byte),
	}
}

// Get reads a value. The returned slice is a copy.
func (d *MemoryDevice) Get(ctx context.Context, key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	value, ok := d.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set writes a value, rejecting writes that would exceed the quota
// without changing stored state.
func (d *MemoryDevice) Set(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldCost := int64(0)
	if old, ok := d.items[key]; ok {
		oldCost = entryCost(key, old)
	}
	newUsed := d.used - oldCost + entryCost(key, value)
	if newUsed > d.quota {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	d.items[key] = stored
	d.used = newUsed
	return nil
}

// Delete removes a key.
func (d *MemoryDevice) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.items[key]; ok {
		d.used -= entryCost(key, old)
		delete(d.items, key)
	}
	return nil
}

// Keys lists stored keys in sorted order.
func (d *MemoryDevice) Keys(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.items))
	for k := range d.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats reports usage against the quota.
func (d *MemoryDevice) Stats(ctx context.Context) (DeviceStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DeviceStats{Used: d.used, Quota: d.quota}, nil
}

// Close is a no-op for the memory device.
func (d *MemoryDevice) Close() error { return nil }

func entryCost(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
