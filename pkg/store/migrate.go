package store

import (
	"context"
	"encoding/json"

	"github.com/tierstore/tierstore/pkg/telemetry"
)

// migrateLegacy performs the one-time move of pre-partitioning data
// into this tenant's partition. The completion marker is per feature:
// once set, no tenant migrates again, even if the legacy key somehow
// reappears. Corrupted legacy data is discarded and the marker set so
// the attempt is not repeated.
func (s *ScopedStore) migrateLegacy(ctx context.Context, dst any) (bool, error) {
	_, marked, err := s.dev.Get(ctx, s.markerKey())
	if err != nil {
		return false, err
	}
	if marked {
		return false, nil
	}

	raw, found, err := s.dev.Get(ctx, s.legacyKey())
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	ctx, span := s.cfg.Tracer.StartMigration(ctx, s.cfg.Feature)
	defer span.End()

	if err := json.Unmarshal(raw, dst); err != nil {
		// Corrupted legacy data: discard and mark so no tenant retries.
		_ = s.dev.Delete(ctx, s.legacyKey())
		s.finishMigration(ctx)
		return false, nil
	}

	// Partition write first: if it fails (even after degradation) the
	// legacy data survives for a later attempt.
	if err := s.writeRaw(ctx, raw); err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	s.finishMigration(ctx)
	_ = s.dev.Delete(ctx, s.legacyKey())

	s.cfg.Metrics.RecordMigration()
	return true, nil
}

// finishMigration sets the per-feature completion marker. Marker
// writes bypass the degradation ladder; a one-byte value failing on
// quota means the device is beyond saving anyway.
func (s *ScopedStore) finishMigration(ctx context.Context) {
	_ = s.dev.Set(ctx, s.markerKey(), []byte("1"))
}
