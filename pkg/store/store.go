package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tierstore/tierstore/pkg/metrics"
	"github.com/tierstore/tierstore/pkg/telemetry"
)

// Partition key shapes. Tenant and feature identifiers must not
// contain underscores so these three shapes can never collide.
const (
	markerSuffix = "_migration_completed"
	stagedSuffix = "_staged"
)

// Defaults for the scoped store policy.
const (
	// DefaultSoftItemLimit is the per-item size above which compaction
	// is applied pre-emptively, well below the device hard quota.
	DefaultSoftItemLimit = 2 << 20

	// DefaultKeepRecords is how many records essential-field
	// extraction retains.
	DefaultKeepRecords = 5

	// DefaultMaxTextLen bounds free-text fields after compaction.
	DefaultMaxTextLen = 1000
)

// ErrStorageExhausted is returned when a write still exceeds the
// device quota after every degradation tier. Data already persisted is
// left in place; the caller decides whether to proceed without
// persistence.
var ErrStorageExhausted = errors.New("storage exhausted after degradation")

// Config binds a ScopedStore to one (feature, tenant) partition and
// sets its degradation policy.
type Config struct {
	// Feature names the data family, e.g. "designhistory". Required;
	// must not contain underscores.
	Feature string

	// Tenant scopes the partition to one tenant. Required; must not
	// contain underscores.
	Tenant string

	// SoftItemLimit triggers pre-emptive compaction for oversized
	// items (0 = DefaultSoftItemLimit).
	SoftItemLimit int64

	// KeepRecords is the record count retained by essential-field
	// extraction (0 = DefaultKeepRecords).
	KeepRecords int

	// MaxTextLen bounds free-text fields during compaction
	// (0 = DefaultMaxTextLen).
	MaxTextLen int

	// EphemeralFeatures lists features whose partitions hold
	// cache-class data; other tenants' partitions of these features
	// may be deleted by the cleanup tier.
	EphemeralFeatures []string

	// Tracer emits spans for store operations (nil = no-op).
	Tracer *telemetry.Provider

	// Metrics records degradation and migration counters (nil = off).
	Metrics *metrics.Metrics
}

// StorageStats describes the partition and the device it lives on.
type StorageStats struct {
	PartitionSize      int64
	TotalDeviceUsage   int64
	EstimatedAvailable int64
}

// ScopedStore is a thin handle over one (feature, tenant) partition of
// a quota-bounded device. It holds no mutable state of its own.
type ScopedStore struct {
	dev       Device
	cfg       Config
	ephemeral map[string]bool
}

// NewScopedStore validates the scope and returns a store bound to it.
// An unbound or malformed scope fails fast rather than silently
// writing to a shared location.
func NewScopedStore(dev Device, cfg Config) (*ScopedStore, error) {
	if dev == nil {
		return nil, fmt.Errorf("device is required")
	}
	if err := validateIdentifier("feature", cfg.Feature); err != nil {
		return nil, err
	}
	if err := validateIdentifier("tenant", cfg.Tenant); err != nil {
		return nil, err
	}

	if cfg.SoftItemLimit <= 0 {
		cfg.SoftItemLimit = DefaultSoftItemLimit
	}
	if cfg.KeepRecords <= 0 {
		cfg.KeepRecords = DefaultKeepRecords
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = DefaultMaxTextLen
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Noop()
	}

	ephemeral := make(map[string]bool, len(cfg.EphemeralFeatures))
	for _, f := range cfg.EphemeralFeatures {
		ephemeral[f] = true
	}

	return &ScopedStore{dev: dev, cfg: cfg, ephemeral: ephemeral}, nil
}

// SetItem serializes v and writes it to the partition. Items above the
// soft limit are compacted before the first attempt; a quota failure
// at write time invokes the degradation ladder. Serialization failures
// surface immediately and are never degraded.
func (s *ScopedStore) SetItem(ctx context.Context, v any) error {
	ctx, span := s.cfg.Tracer.StartSetItem(ctx, s.cfg.Feature, s.cfg.Tenant)
	defer span.End()

	data, err := json.Marshal(v)
	if err != nil {
		err = fmt.Errorf("serialize payload: %w", err)
		telemetry.RecordError(span, err)
		return err
	}

	if int64(len(data)) > s.cfg.SoftItemLimit {
		data = s.compact(data)
	}

	if err := s.writeRaw(ctx, data); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// GetItem reads the partition into dst and reports presence. A missing
// partition triggers the one-time legacy migration before giving up.
// Corrupted content is deleted and reported as absent; a parse error
// never reaches the caller.
//
// Migration is one-shot per feature, not per tenant: once any tenant
// has received the legacy data, later tenants of the same feature read
// absent. This prevents duplicating legacy data whose true owner is
// ambiguous, at the cost of second tenants never seeing it.
func (s *ScopedStore) GetItem(ctx context.Context, dst any) (bool, error) {
	ctx, span := s.cfg.Tracer.StartGetItem(ctx, s.cfg.Feature, s.cfg.Tenant)
	defer span.End()

	key := s.partitionKey()
	raw, found, err := s.dev.Get(ctx, key)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if found {
		if err := json.Unmarshal(raw, dst); err != nil {
			// Corrupted record: self-heal by discarding it.
			_ = s.dev.Delete(ctx, key)
			return false, nil
		}
		return true, nil
	}

	if ok, err := s.recoverStaged(ctx, dst); ok || err != nil {
		return ok, err
	}

	return s.migrateLegacy(ctx, dst)
}

// RemoveItem deletes the partition.
func (s *ScopedStore) RemoveItem(ctx context.Context) error {
	return s.dev.Delete(ctx, s.partitionKey())
}

// HasItem reports whether the partition holds data. It does not
// trigger migration.
func (s *ScopedStore) HasItem(ctx context.Context) (bool, error) {
	_, found, err := s.dev.Get(ctx, s.partitionKey())
	return found, err
}

// Stats reports the partition size and overall device usage.
func (s *ScopedStore) Stats(ctx context.Context) (StorageStats, error) {
	raw, found, err := s.dev.Get(ctx, s.partitionKey())
	if err != nil {
		return StorageStats{}, err
	}
	dev, err := s.dev.Stats(ctx)
	if err != nil {
		return StorageStats{}, err
	}

	var partition int64
	if found {
		partition = int64(len(raw))
	}
	return StorageStats{
		PartitionSize:      partition,
		TotalDeviceUsage:   dev.Used,
		EstimatedAvailable: dev.Available(),
	}, nil
}

// writeRaw attempts the device write and falls into the degradation
// ladder on quota failure.
func (s *ScopedStore) writeRaw(ctx context.Context, data []byte) error {
	err := s.dev.Set(ctx, s.partitionKey(), data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	s.cfg.Metrics.RecordQuotaFailure()
	return s.degrade(ctx, data)
}

// recoverStaged finishes an interrupted minimal-fallback swap: if a
// staged record exists without a partition, the swap was cut short
// between delete and final write, so promote the staged copy.
func (s *ScopedStore) recoverStaged(ctx context.Context, dst any) (bool, error) {
	stagedKey := s.partitionKey() + stagedSuffix
	raw, found, err := s.dev.Get(ctx, stagedKey)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		_ = s.dev.Delete(ctx, stagedKey)
		return false, nil
	}
	if err := s.dev.Set(ctx, s.partitionKey(), raw); err != nil {
		// Promotion failed; the staged copy stays for the next read.
		return true, nil
	}
	_ = s.dev.Delete(ctx, stagedKey)
	return true, nil
}

func (s *ScopedStore) partitionKey() string {
	return s.cfg.Feature + "_" + s.cfg.Tenant
}

func (s *ScopedStore) legacyKey() string {
	return s.cfg.Feature
}

func (s *ScopedStore) markerKey() string {
	return s.cfg.Feature + markerSuffix
}

func validateIdentifier(role, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s identifier is required", role)
	}
	if strings.Contains(v, "_") {
		return fmt.Errorf("%s identifier %q must not contain underscores", role, v)
	}
	return nil
}

// SplitPartitionKey parses "{feature}_{tenant}". Keys with more or
// fewer than two segments are not tenant partitions.
func SplitPartitionKey(key string) (feature, tenant string, ok bool) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
