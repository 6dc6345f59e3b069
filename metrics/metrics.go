// Package metrics exposes the orchestration core's Prometheus surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns every counter, histogram and gauge of the core.
type Metrics struct {
	registry *prometheus.Registry

	routingRequests *prometheus.CounterVec
	routingLatency  *prometheus.HistogramVec
	tierFailures    *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	missingRules    *prometheus.CounterVec

	systemSourceRequests *prometheus.CounterVec

	hitlRequests     *prometheus.CounterVec
	hitlApprovalTime prometheus.Histogram
	hitlPending      prometheus.Gauge

	dialogDuration prometheus.Histogram
	dialogActive   prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds).
	LatencyBuckets []float64
}

// DefaultConfig returns default metric configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// New creates and registers the metric set.
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.routingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "routing_requests_total",
			Help:      "Total routing requests by category and charged layer",
		},
		[]string{"category", "layer"},
	)
	m.routingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opsintent",
			Name:      "routing_latency_seconds",
			Help:      "Routing latency by charged layer",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"layer"},
	)
	m.tierFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "tier_failures_total",
			Help:      "Tier degradations that fell through to the next layer",
		},
		[]string{"layer"},
	)
	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "decision_cache_total",
			Help:      "Decision cache lookups by outcome",
		},
		[]string{"outcome"},
	)
	m.missingRules = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "completeness_rule_missing_total",
			Help:      "Completeness checks that found no applicable rule",
		},
		[]string{"category"},
	)
	m.systemSourceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "system_source_requests_total",
			Help:      "Inbound system-source requests by source",
		},
		[]string{"source"},
	)
	m.hitlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsintent",
			Name:      "hitl_requests_total",
			Help:      "Approval requests by risk level and terminal status",
		},
		[]string{"level", "status"},
	)
	m.hitlApprovalTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsintent",
			Name:      "hitl_approval_time_seconds",
			Help:      "Time from approval creation to terminal transition",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
	)
	m.hitlPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsintent",
			Name:      "hitl_pending_count",
			Help:      "Approval requests currently pending",
		},
	)
	m.dialogDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsintent",
			Name:      "dialog_duration_seconds",
			Help:      "Dialog session duration from start to completion",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
		},
	)
	m.dialogActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsintent",
			Name:      "dialog_active_count",
			Help:      "Dialog sessions currently active",
		},
	)

	registry.MustRegister(
		m.routingRequests,
		m.routingLatency,
		m.tierFailures,
		m.cacheHits,
		m.missingRules,
		m.systemSourceRequests,
		m.hitlRequests,
		m.hitlApprovalTime,
		m.hitlPending,
		m.dialogDuration,
		m.dialogActive,
	)
	return m
}

// RecordRouting charges exactly one layer for a routing request.
func (m *Metrics) RecordRouting(category, layer string, latency time.Duration) {
	m.routingRequests.WithLabelValues(category, layer).Inc()
	m.routingLatency.WithLabelValues(layer).Observe(latency.Seconds())
}

// RecordTierFailure records a tier degradation.
func (m *Metrics) RecordTierFailure(layer string) {
	m.tierFailures.WithLabelValues(layer).Inc()
}

// RecordCache records a decision-cache lookup outcome ("hit" or "miss").
func (m *Metrics) RecordCache(outcome string) {
	m.cacheHits.WithLabelValues(outcome).Inc()
}

// RecordMissingCompletenessRule records a rule-resolution miss.
func (m *Metrics) RecordMissingCompletenessRule(category string) {
	m.missingRules.WithLabelValues(category).Inc()
}

// RecordSystemSource records an inbound system-source request.
func (m *Metrics) RecordSystemSource(source string) {
	m.systemSourceRequests.WithLabelValues(source).Inc()
}

// RecordHITL records an approval transition.
func (m *Metrics) RecordHITL(level, status string) {
	m.hitlRequests.WithLabelValues(level, status).Inc()
}

// ObserveApprovalTime records time to terminal transition.
func (m *Metrics) ObserveApprovalTime(d time.Duration) {
	m.hitlApprovalTime.Observe(d.Seconds())
}

// SetPendingApprovals sets the pending-approval gauge.
func (m *Metrics) SetPendingApprovals(n int) {
	m.hitlPending.Set(float64(n))
}

// AddPendingApprovals adjusts the pending-approval gauge.
func (m *Metrics) AddPendingApprovals(delta int) {
	m.hitlPending.Add(float64(delta))
}

// ObserveDialogDuration records a completed dialog's duration.
func (m *Metrics) ObserveDialogDuration(d time.Duration) {
	m.dialogDuration.Observe(d.Seconds())
}

// AddActiveDialogs adjusts the active-dialog gauge.
func (m *Metrics) AddActiveDialogs(delta int) {
	m.dialogActive.Add(float64(delta))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
