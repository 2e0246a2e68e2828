package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type prefsDoc struct {
	Theme    string `json:"theme"`
	FontSize int    `json:"fontSize"`
}

func newTestStore(t *testing.T, dev Device, feature, tenant string) *ScopedStore {
	t.Helper()
	s, err := NewScopedStore(dev, Config{Feature: feature, Tenant: tenant})
	if err != nil {
		t.Fatalf("NewScopedStore failed: %v", err)
	}
	return s
}

func TestScopedStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	in := prefsDoc{Theme: "dark", FontSize: 14}
	if err := s.SetItem(ctx, in); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !found {
		t.Fatal("expected item to be found")
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestScopedStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryDevice(0), "prefs", "tenant1")

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if found {
		t.Error("expected absent item")
	}
}

func TestScopedStore_PartitionKeyShape(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := s.SetItem(ctx, prefsDoc{Theme: "dark"}); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if _, found, _ := dev.Get(ctx, "prefs_tenant1"); !found {
		t.Error("expected data under key prefs_tenant1")
	}
}

func TestScopedStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s1 := newTestStore(t, dev, "prefs", "tenant1")
	s2 := newTestStore(t, dev, "prefs", "tenant2")

	if err := s1.SetItem(ctx, prefsDoc{Theme: "dark"}); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	var out prefsDoc
	found, err := s2.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if found {
		t.Error("tenant2 must not see tenant1's data")
	}
}

func TestScopedStore_IdentifierValidation(t *testing.T) {
	dev := NewMemoryDevice(0)
	cases := []struct {
		name    string
		feature string
		tenant  string
	}{
		{"empty feature", "", "t1"},
		{"empty tenant", "prefs", ""},
		{"underscore in feature", "design_history", "t1"},
		{"underscore in tenant", "prefs", "tenant_1"},
		{"blank tenant", "prefs", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewScopedStore(dev, Config{Feature: tc.feature, Tenant: tc.tenant}); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestScopedStore_SerializationFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := s.SetItem(ctx, map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected serialization error")
	}
	// Nothing may be written for an unserializable payload.
	if _, found, _ := dev.Get(ctx, "prefs_tenant1"); found {
		t.Error("failed serialization left data behind")
	}
}

func TestScopedStore_CorruptDataSelfHeals(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := dev.Set(ctx, "prefs_tenant1", []byte("{not json")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem must not surface parse errors: %v", err)
	}
	if found {
		t.Error("corrupt data reported as found")
	}
	if _, found, _ := dev.Get(ctx, "prefs_tenant1"); found {
		t.Error("corrupt data was not deleted")
	}

	// The partition is usable again after healing.
	if err := s.SetItem(ctx, prefsDoc{Theme: "light"}); err != nil {
		t.Fatalf("SetItem after heal failed: %v", err)
	}
	found, err = s.GetItem(ctx, &out)
	if err != nil || !found {
		t.Fatalf("expected healed partition to accept writes: %v found=%v", err, found)
	}
}

func TestScopedStore_RemoveAndHas(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := s.SetItem(ctx, prefsDoc{Theme: "dark"}); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	has, err := s.HasItem(ctx)
	if err != nil || !has {
		t.Fatalf("HasItem = %v, %v; want true", has, err)
	}

	if err := s.RemoveItem(ctx); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	has, err = s.HasItem(ctx)
	if err != nil || has {
		t.Fatalf("HasItem after remove = %v, %v; want false", has, err)
	}
}

func TestScopedStore_Stats(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(1024)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := s.SetItem(ctx, prefsDoc{Theme: "dark", FontSize: 12}); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.PartitionSize <= 0 {
		t.Errorf("expected positive partition size, got %d", stats.PartitionSize)
	}
	if stats.TotalDeviceUsage < stats.PartitionSize {
		t.Errorf("device usage %d below partition size %d", stats.TotalDeviceUsage, stats.PartitionSize)
	}
	if stats.EstimatedAvailable != 1024-stats.TotalDeviceUsage {
		t.Errorf("available %d inconsistent with usage %d", stats.EstimatedAvailable, stats.TotalDeviceUsage)
	}
}

func TestScopedStore_MigrationMovesLegacyData(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := dev.Set(ctx, "prefs", []byte(`{"theme":"legacy","fontSize":10}`)); err != nil {
		t.Fatalf("seed legacy failed: %v", err)
	}

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !found {
		t.Fatal("expected migrated data to be found")
	}
	if out.Theme != "legacy" || out.FontSize != 10 {
		t.Errorf("unexpected migrated payload: %+v", out)
	}

	if _, found, _ := dev.Get(ctx, "prefs"); found {
		t.Error("legacy key should be deleted after migration")
	}
	if _, found, _ := dev.Get(ctx, "prefs_tenant1"); !found {
		t.Error("partition should hold the migrated data")
	}
	if _, found, _ := dev.Get(ctx, "prefs_migration_completed"); !found {
		t.Error("completion marker should be set")
	}
}

func TestScopedStore_MigrationIsOneShotPerFeature(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s1 := newTestStore(t, dev, "prefs", "tenant1")
	s2 := newTestStore(t, dev, "prefs", "tenant2")

	if err := dev.Set(ctx, "prefs", []byte(`{"theme":"legacy"}`)); err != nil {
		t.Fatalf("seed legacy failed: %v", err)
	}

	var out prefsDoc
	if found, err := s1.GetItem(ctx, &out); err != nil || !found {
		t.Fatalf("first tenant migration: found=%v err=%v", found, err)
	}

	// A second tenant of the same feature must not migrate again, even
	// if a legacy key reappears.
	if err := dev.Set(ctx, "prefs", []byte(`{"theme":"stale"}`)); err != nil {
		t.Fatalf("reseed legacy failed: %v", err)
	}
	found, err := s2.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("second tenant GetItem failed: %v", err)
	}
	if found {
		t.Error("second tenant must read absent after migration completed")
	}
}

func TestScopedStore_MigrationCorruptLegacy(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := dev.Set(ctx, "prefs", []byte("{broken")); err != nil {
		t.Fatalf("seed legacy failed: %v", err)
	}

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if found {
		t.Error("corrupt legacy data reported as found")
	}
	if _, found, _ := dev.Get(ctx, "prefs"); found {
		t.Error("corrupt legacy key should be discarded")
	}
	if _, found, _ := dev.Get(ctx, "prefs_migration_completed"); !found {
		t.Error("marker should be set so the attempt is not repeated")
	}
}

func TestScopedStore_HasItemDoesNotMigrate(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	if err := dev.Set(ctx, "prefs", []byte(`{"theme":"legacy"}`)); err != nil {
		t.Fatalf("seed legacy failed: %v", err)
	}

	has, err := s.HasItem(ctx)
	if err != nil {
		t.Fatalf("HasItem failed: %v", err)
	}
	if has {
		t.Error("HasItem must not report legacy data")
	}
	if _, found, _ := dev.Get(ctx, "prefs"); !found {
		t.Error("HasItem must not consume the legacy key")
	}
}

func TestScopedStore_RecoverStaged(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "prefs", "tenant1")

	// Simulates a crash between the delete and final write of the
	// minimal-fallback swap: only the staged copy exists.
	if err := dev.Set(ctx, "prefs_tenant1_staged", []byte(`{"theme":"staged"}`)); err != nil {
		t.Fatalf("seed staged failed: %v", err)
	}

	var out prefsDoc
	found, err := s.GetItem(ctx, &out)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !found || out.Theme != "staged" {
		t.Fatalf("expected staged data recovered, found=%v out=%+v", found, out)
	}

	if _, found, _ := dev.Get(ctx, "prefs_tenant1"); !found {
		t.Error("staged copy should be promoted to the partition")
	}
	if _, found, _ := dev.Get(ctx, "prefs_tenant1_staged"); found {
		t.Error("staged key should be removed after promotion")
	}
}

func TestScopedStore_NilDevice(t *testing.T) {
	if _, err := NewScopedStore(nil, Config{Feature: "prefs", Tenant: "t1"}); err == nil {
		t.Error("expected error for nil device")
	}
}

func TestScopedStore_ExhaustedSurfacesError(t *testing.T) {
	ctx := context.Background()
	// Quota too small for even a single minimal record.
	dev := NewMemoryDevice(16)
	s := newTestStore(t, dev, "prefs", "tenant1")

	err := s.SetItem(ctx, map[string]any{"text": "this will never fit anywhere"})
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("expected ErrStorageExhausted, got %v", err)
	}
}

func TestScopedStore_CompactReclaimsSpace(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice(0)
	s := newTestStore(t, dev, "history", "tenant1")

	doc := map[string]any{
		"id":    "n1",
		"image": "data:image/png;base64," + strings.Repeat("A", 500),
	}
	if err := s.SetItem(ctx, doc); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	reclaimed, err := s.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if reclaimed <= 0 {
		t.Fatalf("expected bytes reclaimed, got %d", reclaimed)
	}

	var out map[string]any
	if found, err := s.GetItem(ctx, &out); err != nil || !found {
		t.Fatalf("GetItem: found=%v err=%v", found, err)
	}
	if out["image"] != BlobPlaceholder {
		t.Errorf("expected blob placeholder, got %v", out["image"])
	}

	// A second pass finds nothing left to strip.
	reclaimed, err = s.Compact(ctx)
	if err != nil {
		t.Fatalf("second Compact failed: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("expected no further reclaim, got %d", reclaimed)
	}
}

func TestSplitPartitionKey(t *testing.T) {
	cases := []struct {
		key     string
		feature string
		tenant  string
		ok      bool
	}{
		{"prefs_tenant1", "prefs", "tenant1", true},
		{"prefs", "", "", false},
		{"prefs_migration_completed", "", "", false},
		{"prefs_tenant1_staged", "", "", false},
		{"_tenant1", "", "", false},
		{"prefs_", "", "", false},
	}
	for _, tc := range cases {
		feature, tenant, ok := SplitPartitionKey(tc.key)
		if feature != tc.feature || tenant != tc.tenant || ok != tc.ok {
			t.Errorf("SplitPartitionKey(%q) = %q, %q, %v; want %q, %q, %v",
				tc.key, feature, tenant, ok, tc.feature, tc.tenant, tc.ok)
		}
	}
}
