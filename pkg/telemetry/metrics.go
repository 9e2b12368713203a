package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the monitor.
type Metrics struct {
	passesTotal  *prometheus.CounterVec
	passDuration *prometheus.HistogramVec

	sendsTotal  *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec

	trackedEntities *prometheus.GaugeVec
	rateLimitSkips  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with all monitor collectors
// registered on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govbot_passes_total",
				Help: "Total monitor passes by source and status",
			},
			[]string{"source", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govbot_pass_duration_seconds",
				Help:    "Duration of one poll/diff/dispatch pass",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govbot_sends_total",
				Help: "Notification sends by source, kind, and status",
			},
			[]string{"source", "kind", "status"},
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govbot_fetch_errors_total",
				Help: "Fetch failures by source and scope",
			},
			[]string{"source", "scope"},
		),
		trackedEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "govbot_tracked_entities",
				Help: "Entities currently tracked per source",
			},
			[]string{"source"},
		),
		rateLimitSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govbot_rate_limit_skips_total",
				Help: "Cycles skipped after exhausting the rate limit retry budget",
			},
			[]string{"source"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.sendsTotal,
		m.fetchErrors,
		m.trackedEntities,
		m.rateLimitSkips,
	)
	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPass records one completed pass.
func (m *Metrics) RecordPass(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(source, status).Inc()
	m.passDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordSend records one notification send attempt.
func (m *Metrics) RecordSend(source, kind, status string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(source, kind, status).Inc()
}

// RecordFetchError records a failed fetch for one scope.
func (m *Metrics) RecordFetchError(source, scope string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(source, scope).Inc()
}

// SetTracked records the current tracked-entity count for a source.
func (m *Metrics) SetTracked(source string, n int) {
	if m == nil {
		return
	}
	m.trackedEntities.WithLabelValues(source).Set(float64(n))
}

// RecordRateLimitSkip records a cycle skipped on retry budget exhaustion.
func (m *Metrics) RecordRateLimitSkip(source string) {
	if m == nil {
		return
	}
	m.rateLimitSkips.WithLabelValues(source).Inc()
}
