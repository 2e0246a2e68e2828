package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tierstore/tierstore/pkg/cache"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordDegradation(t *testing.T) {
	m := New()
	m.RecordDegradation("cleanup")
	m.RecordDegradation("compact")
	m.RecordDegradation("compact")

	if val := counterValue(t, m.DegradationsTotal, "tier", "compact"); val != 2 {
		t.Errorf("expected 2 compact degradations, got %f", val)
	}
	if val := counterValue(t, m.DegradationsTotal, "tier", "cleanup"); val != 1 {
		t.Errorf("expected 1 cleanup degradation, got %f", val)
	}
}

func TestRecordQuotaFailure(t *testing.T) {
	m := New()
	m.RecordQuotaFailure()
	m.RecordQuotaFailure()

	var metric dto.Metric
	if err := m.QuotaFailuresTotal.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 quota failures, got %f", metric.GetCounter().GetValue())
	}
}

func TestRecordMigration(t *testing.T) {
	m := New()
	m.RecordMigration()

	var metric dto.Metric
	if err := m.MigrationsTotal.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 1 {
		t.Errorf("expected 1 migration, got %f", metric.GetCounter().GetValue())
	}
}

func TestObserveCaches(t *testing.T) {
	m := New()
	m.ObserveCaches(map[string]cache.Stats{
		"queries": {Hits: 3, Misses: 1, Size: 42, Evictions: 7},
	})

	entries, err := m.CacheEntries.GetMetricWith(prometheus.Labels{"cache": "queries"})
	if err != nil {
		t.Fatalf("failed to get gauge: %v", err)
	}
	var metric dto.Metric
	if err := entries.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 42 {
		t.Errorf("expected 42 entries, got %f", metric.GetGauge().GetValue())
	}

	rate, err := m.CacheHitRate.GetMetricWith(prometheus.Labels{"cache": "queries"})
	if err != nil {
		t.Fatalf("failed to get gauge: %v", err)
	}
	metric.Reset()
	if err := rate.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 75 {
		t.Errorf("expected hit rate 75, got %f", metric.GetGauge().GetValue())
	}
}

func TestObserveDevice(t *testing.T) {
	m := New()
	m.ObserveDevice(1024, 8192)

	var metric dto.Metric
	if err := m.DeviceUsedBytes.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 1024 {
		t.Errorf("expected 1024 used bytes, got %f", metric.GetGauge().GetValue())
	}
}

func TestNilReceiver(t *testing.T) {
	// Callers without metrics wired pass nil; none of these may panic.
	var m *Metrics
	m.RecordDegradation("compact")
	m.RecordQuotaFailure()
	m.RecordMigration()
	m.ObserveCaches(map[string]cache.Stats{"queries": {}})
	m.ObserveDevice(1, 2)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordDegradation("extract")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "tierstore_degradations_total") {
		t.Error("metrics output missing tierstore_degradations_total")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

// counterValue extracts the value of a counter with the given label pairs.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	counter, err := cv.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
