// Package observability provides Prometheus metrics and usage statistics
// for dissolve runs.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	dissolves   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	groups      prometheus.Histogram
	warnings    *prometheus.CounterVec
	cacheEvents *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dissolves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dissolve_requests_total",
				Help: "Total number of dissolve requests by union method and outcome",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dissolve_duration_seconds",
				Help:    "Duration of dissolve runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		groups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dissolve_groups",
				Help:    "Number of output groups per dissolve",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dissolve_warnings_total",
				Help: "Warnings emitted during dissolve runs by source",
			},
			[]string{"source"},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dissolve_cache_events_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dissolve_in_flight_requests",
				Help: "Requests currently being processed",
			},
		),
	}
	m.registry.MustRegister(
		m.dissolves, m.duration, m.groups, m.warnings, m.cacheEvents, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDissolve records a finished dissolve. status is "ok" or an error
// category.
func (m *Metrics) ObserveDissolve(method, status string, elapsed time.Duration, groups int) {
	if method == "" {
		method = "unary"
	}
	m.dissolves.WithLabelValues(method, status).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
	if status == "ok" {
		m.groups.Observe(float64(groups))
	}
}

// ObserveWarning counts one warning from source.
func (m *Metrics) ObserveWarning(source string) {
	m.warnings.WithLabelValues(source).Inc()
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.cacheEvents.WithLabelValues("hit").Inc()
		return
	}
	m.cacheEvents.WithLabelValues("miss").Inc()
}

// TrackInFlight increments the in-flight gauge and returns a func that
// decrements it.
func (m *Metrics) TrackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
