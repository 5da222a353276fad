package observability

import (
	"context"
	"time"

	"github.com/jkaninda/alama/internal/prompt"
	"github.com/jkaninda/alama/internal/router"
)

// RouterRecorder feeds routing events into the metrics collector and the
// anomaly detector. A zero RouterRecorder records nothing.
type RouterRecorder struct {
	metrics *MetricsCollector
	anomaly *AnomalyDetector
}

// NewRouterRecorder returns a recorder for the router. Either argument may be nil.
func NewRouterRecorder(metrics *MetricsCollector, anomaly *AnomalyDetector) *RouterRecorder {
	return &RouterRecorder{metrics: metrics, anomaly: anomaly}
}

func (r *RouterRecorder) RecordAttempt(_ context.Context, provider string, strategy prompt.Strategy, outcome router.Outcome, elapsed time.Duration) {
	if r.metrics != nil {
		r.metrics.MarkingAttemptsTotal.WithLabelValues(provider, string(strategy), string(outcome)).Inc()
		r.metrics.MarkingAttemptDuration.WithLabelValues(provider, string(strategy)).Observe(elapsed.Seconds())
	}
	// Unparseable output is tracked separately from transport failures.
	if r.anomaly != nil && outcome == router.OutcomeValidationError {
		r.anomaly.RecordError("validation:" + provider)
	} else if r.anomaly != nil && outcome == router.OutcomeSuccess {
		r.anomaly.RecordSuccess("validation:" + provider)
	}
}

func (r *RouterRecorder) RecordCacheLookup(hit bool) {
	if r.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (r *RouterRecorder) RecordFallback(kind string) {
	if r.metrics != nil {
		r.metrics.FallbacksTotal.WithLabelValues(kind).Inc()
	}
}

func (r *RouterRecorder) RecordTerminalFailure() {
	if r.metrics != nil {
		r.metrics.TerminalFailuresTotal.Inc()
	}
}

var _ router.Recorder = (*RouterRecorder)(nil)
