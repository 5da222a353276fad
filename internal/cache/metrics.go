package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the response cache and its janitor.
type Metrics struct {
	StoreErrors   *prometheus.CounterVec
	PurgeRuns     prometheus.Counter
	PurgeFailures prometheus.Counter
	PurgedEntries prometheus.Counter
	PurgeDuration prometheus.Histogram
}

// NewMetrics creates and registers cache metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "cache",
			Name:      "store_errors_total",
			Help:      "External cache store failures absorbed by the memory fallback.",
		}, []string{"op"}),
		PurgeRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "cache",
			Name:      "purge_runs_total",
			Help:      "Total expiry purge runs.",
		}),
		PurgeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "cache",
			Name:      "purge_failures_total",
			Help:      "Total expiry purge runs that failed.",
		}),
		PurgedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alama",
			Subsystem: "cache",
			Name:      "purged_entries_total",
			Help:      "Total expired entries removed by purge runs.",
		}),
		PurgeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alama",
			Subsystem: "cache",
			Name:      "purge_duration_seconds",
			Help:      "Duration of each expiry purge run.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.StoreErrors,
		m.PurgeRuns,
		m.PurgeFailures,
		m.PurgedEntries,
		m.PurgeDuration,
	)

	return m
}
