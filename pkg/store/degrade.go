package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/tierstore/tierstore/pkg/telemetry"
)

// Degradation tier names, also used as metric labels.
const (
	TierCleanup = "cleanup"
	TierCompact = "compact"
	TierExtract = "extract"
	TierMinimal = "minimal"
)

// Placeholder tokens written by the compaction tier.
const (
	BlobPlaceholder      = "[blob removed]"
	TruncationMarker     = "...[truncated]"
	RecursionPlaceholder = "[recursive structure removed]"
)

const blobMinLen = 4096

// degrade runs the ladder in strict order. Each tier reshapes the
// payload (or frees device space), re-measures, and retries the write;
// the next tier runs only if the retry still hits the quota.
func (s *ScopedStore) degrade(ctx context.Context, data []byte) error {
	key := s.partitionKey()

	// Tier 1: free space held by other tenants' cache-class data.
	if err := s.runTier(ctx, TierCleanup, key, func() []byte {
		s.cleanup(ctx)
		return data
	}, &data); err == nil {
		return nil
	} else if !isQuota(err) {
		return err
	}

	// Tier 2: strip blobs and truncate long text.
	if err := s.runTier(ctx, TierCompact, key, func() []byte {
		return s.compact(data)
	}, &data); err == nil {
		return nil
	} else if !isQuota(err) {
		return err
	}

	// Tier 3: keep only the most recent records, whitelisted fields.
	if err := s.runTier(ctx, TierExtract, key, func() []byte {
		return s.extract(data)
	}, &data); err == nil {
		return nil
	} else if !isQuota(err) {
		return err
	}

	// Tier 4: single most recent record in minimal form, written via
	// stage-then-swap so the old data is never deleted before its
	// replacement is known to fit.
	ctx, span := s.cfg.Tracer.StartDegradation(ctx, TierMinimal)
	defer span.End()
	s.cfg.Metrics.RecordDegradation(TierMinimal)

	minimal := s.minimal(data)
	stagedKey := key + stagedSuffix
	if err := s.dev.Set(ctx, stagedKey, minimal); err != nil {
		err = fmt.Errorf("stage minimal record: %w: %w", err, ErrStorageExhausted)
		telemetry.RecordError(span, err)
		return err
	}
	_ = s.dev.Delete(ctx, key)
	if err := s.dev.Set(ctx, key, minimal); err != nil {
		// The staged copy still holds the record; GetItem recovers it.
		err = fmt.Errorf("promote minimal record: %w: %w", err, ErrStorageExhausted)
		telemetry.RecordError(span, err)
		return err
	}
	_ = s.dev.Delete(ctx, stagedKey)
	return nil
}

// Compact rewrites the partition through the blob-stripping pass
// without waiting for a quota failure, reporting the bytes reclaimed.
// Used by maintenance tooling to reclaim space ahead of demand.
func (s *ScopedStore) Compact(ctx context.Context) (int64, error) {
	key := s.partitionKey()
	raw, found, err := s.dev.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}

	out := s.compact(raw)
	if len(out) >= len(raw) {
		return 0, nil
	}
	if err := s.dev.Set(ctx, key, out); err != nil {
		return 0, err
	}
	return int64(len(raw) - len(out)), nil
}

// runTier applies one reduction, records it, retries the write and
// propagates the reduced payload to the following tiers.
func (s *ScopedStore) runTier(ctx context.Context, tier, key string, reduce func() []byte, data *[]byte) error {
	ctx, span := s.cfg.Tracer.StartDegradation(ctx, tier)
	defer span.End()
	s.cfg.Metrics.RecordDegradation(tier)

	*data = reduce()
	err := s.dev.Set(ctx, key, *data)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

func isQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// cleanup deletes partitions of other tenants whose feature is tagged
// ephemeral, plus migration markers that can be re-derived because
// their legacy partition is already gone. The current write's own data
// is never touched.
func (s *ScopedStore) cleanup(ctx context.Context) {
	keys, err := s.dev.Keys(ctx)
	if err != nil {
		return
	}

	for _, k := range keys {
		switch {
		case strings.HasSuffix(k, markerSuffix):
			feature := strings.TrimSuffix(k, markerSuffix)
			if feature == s.cfg.Feature {
				// Guards this feature's one-shot migration invariant.
				continue
			}
			if _, found, _ := s.dev.Get(ctx, feature); !found {
				_ = s.dev.Delete(ctx, k)
			}
		case strings.HasSuffix(k, stagedSuffix) && strings.Count(k, "_") == 2:
			// In-flight minimal-fallback staging, not a victim.
		default:
			feature, tenant, ok := SplitPartitionKey(k)
			if !ok || tenant == s.cfg.Tenant {
				continue
			}
			if s.ephemeral[feature] {
				_ = s.dev.Delete(ctx, k)
			}
		}
	}
}

// compact reshapes a serialized payload: blob-like strings become a
// placeholder token and long free text is truncated with a marker.
// On any decode failure the payload is returned unchanged.
func (s *ScopedStore) compact(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	v = compactValue(v, s.cfg.MaxTextLen, make(map[uintptr]bool))
	out, err := json.Marshal(v)
	if err != nil {
		return data
	}
	return out
}

// compactValue walks a payload tree. Visited containers are tracked so
// self-referential structures cannot recurse without bound.
func compactValue(v any, maxText int, seen map[uintptr]bool) any {
	switch t := v.(type) {
	case string:
		if isBlobLike(t) {
			return BlobPlaceholder
		}
		return truncateText(t, maxText)

	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return RecursionPlaceholder
		}
		seen[ptr] = true
		for k, val := range t {
			t[k] = compactValue(val, maxText, seen)
		}
		delete(seen, ptr)
		return t

	case []any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return RecursionPlaceholder
		}
		seen[ptr] = true
		for i, val := range t {
			t[i] = compactValue(val, maxText, seen)
		}
		delete(seen, ptr)
		return t

	default:
		return v
	}
}

// isBlobLike detects inlined binary content: data URIs and long
// base64 runs.
func isBlobLike(s string) bool {
	if strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,") {
		return true
	}
	if len(s) < blobMinLen {
		return false
	}
	probe := s
	if len(probe) > 256 {
		probe = probe[:256]
	}
	for _, r := range probe {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=':
		default:
			return false
		}
	}
	return true
}

// truncateText bounds a string to maxText bytes on a rune boundary and
// appends the truncation marker.
func truncateText(s string, maxText int) string {
	if maxText <= 0 || len(s) <= maxText {
		return s
	}
	cut := maxText
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
