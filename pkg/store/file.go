package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileExt = ".kv"

// FileDevice stores each key as one file under a root directory.
// Writes go through a temp file and rename so a crash never leaves a
// half-written value behind. The quota covers the sum of value sizes.
type FileDevice struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewFileDevice creates (if needed) the root directory and returns a
// file-backed device. A non-positive quota falls back to DefaultQuota.
func NewFileDevice(dir string, quota int64) (*FileDevice, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("device directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &FileDevice{dir: dir, quota: quota}, nil
}

// Get reads a key's file.
func (d *FileDevice) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read key %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes a key's file via temp file and rename, enforcing the
// quota before touching disk.
func (d *FileDevice) Set(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	used, err := d.usedLocked()
	if err != nil {
		return err
	}

	var oldSize int64
	if info, err := os.Stat(d.path(key)); err == nil {
		oldSize = info.Size()
	}
	if used-oldSize+int64(len(value)) > d.quota {
		return ErrQuotaExceeded
	}

	path := d.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write key %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key's file.
func (d *FileDevice) Delete(ctx context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys.
func (d *FileDevice) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list device dir: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Stats reports usage against the quota.
func (d *FileDevice) Stats(ctx context.Context) (DeviceStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	used, err := d.usedLocked()
	if err != nil {
		return DeviceStats{}, err
	}
	return DeviceStats{Used: used, Quota: d.quota}, nil
}

// Close is a no-op for the file device.
func (d *FileDevice) Close() error { return nil }

func (d *FileDevice) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+fileExt)
}

func (d *FileDevice) usedLocked() (int64, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("list device dir: %w", err)
	}

	var used int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}
