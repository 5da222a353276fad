package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for alama.
// Uses a custom registry; no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Provider call metrics, one sample per adapter call.
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Router metrics.
	MarkingAttemptsTotal   *prometheus.CounterVec
	MarkingAttemptDuration *prometheus.HistogramVec
	CacheLookupsTotal      *prometheus.CounterVec
	FallbacksTotal         *prometheus.CounterVec
	TerminalFailuresTotal  prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ProviderRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider calls.",
		}, []string{"provider", "status"}),

		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alama",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		MarkingAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "marking",
			Name:      "attempts_total",
			Help:      "Total marking attempts by outcome.",
		}, []string{"provider", "strategy", "outcome"}),

		MarkingAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alama",
			Subsystem: "marking",
			Name:      "attempt_duration_seconds",
			Help:      "Marking attempt duration in seconds, including validation.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "strategy"}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "marking",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),

		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "marking",
			Name:      "fallbacks_total",
			Help:      "Strategy and provider fallbacks taken.",
		}, []string{"kind"}),

		TerminalFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "marking",
			Name:      "terminal_failures_total",
			Help:      "Requests that exhausted every provider.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alama",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alama",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.MarkingAttemptsTotal,
		m.MarkingAttemptDuration,
		m.CacheLookupsTotal,
		m.FallbacksTotal,
		m.TerminalFailuresTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
