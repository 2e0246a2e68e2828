// Package metrics provides Prometheus instrumentation for Tierstore.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tierstore/tierstore/pkg/cache"
)

// Metrics holds all Prometheus metric collectors for Tierstore.
// All record methods are safe on a nil receiver, so callers that do
// not wire metrics can pass nil instead of guarding every call site.
type Metrics struct {
	DegradationsTotal  *prometheus.CounterVec
	QuotaFailuresTotal prometheus.Counter
	MigrationsTotal    prometheus.Counter
	CacheEntries       *prometheus.GaugeVec
	CacheHitRate       *prometheus.GaugeVec
	CacheEvictions     *prometheus.GaugeVec
	DeviceUsedBytes    prometheus.Gauge
	DeviceQuotaBytes   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all Tierstore metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		DegradationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierstore_degradations_total",
				Help: "Degradation ladder activations by tier.",
			},
			[]string{"tier"},
		),
		QuotaFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tierstore_quota_failures_total",
				Help: "Writes rejected by the device quota before degradation.",
			},
		),
		MigrationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tierstore_migrations_total",
				Help: "Completed legacy-data migrations.",
			},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tierstore_cache_entries",
				Help: "Current entry count per cache instance.",
			},
			[]string{"cache"},
		),
		CacheHitRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tierstore_cache_hit_rate",
				Help: "Hit rate percentage per cache instance.",
			},
			[]string{"cache"},
		),
		CacheEvictions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tierstore_cache_evictions",
				Help: "Cumulative capacity evictions per cache instance.",
			},
			[]string{"cache"},
		),
		DeviceUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tierstore_device_used_bytes",
				Help: "Bytes currently stored on the device.",
			},
		),
		DeviceQuotaBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tierstore_device_quota_bytes",
				Help: "Device quota in bytes.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DegradationsTotal,
		m.QuotaFailuresTotal,
		m.MigrationsTotal,
		m.CacheEntries,
		m.CacheHitRate,
		m.CacheEvictions,
		m.DeviceUsedBytes,
		m.DeviceQuotaBytes,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDegradation counts one activation of a degradation tier.
func (m *Metrics) RecordDegradation(tier string) {
	if m == nil {
		return
	}
	m.DegradationsTotal.WithLabelValues(tier).Inc()
}

// RecordQuotaFailure counts one quota-rejected write.
func (m *Metrics) RecordQuotaFailure() {
	if m == nil {
		return
	}
	m.QuotaFailuresTotal.Inc()
}

// RecordMigration counts one completed legacy migration.
func (m *Metrics) RecordMigration() {
	if m == nil {
		return
	}
	m.MigrationsTotal.Inc()
}

// ObserveCaches publishes a snapshot of per-cache statistics.
func (m *Metrics) ObserveCaches(stats map[string]cache.Stats) {
	if m == nil {
		return
	}
	for name, s := range stats {
		m.CacheEntries.WithLabelValues(name).Set(float64(s.Size))
		m.CacheHitRate.WithLabelValues(name).Set(s.HitRate())
		m.CacheEvictions.WithLabelValues(name).Set(float64(s.Evictions))
	}
}

// ObserveDevice publishes the device usage snapshot.
func (m *Metrics) ObserveDevice(used, quota int64) {
	if m == nil {
		return
	}
	m.DeviceUsedBytes.Set(float64(used))
	m.DeviceQuotaBytes.Set(float64(quota))
}
