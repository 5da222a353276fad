package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/prompt"
	"github.com/jkaninda/alama/internal/provider"
)

// InstrumentedAdapter wraps a provider.Adapter with metrics, tracing, and anomaly detection.
type InstrumentedAdapter struct {
	inner   provider.Adapter
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedAdapter wraps a provider adapter with observability. Any of
// metrics, ts and anomaly may be nil.
func NewInstrumentedAdapter(inner provider.Adapter, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedAdapter {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedAdapter{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (a *InstrumentedAdapter) Name() string { return a.inner.Name() }

// Mark times one adapter call. A truncated completion still counts as a
// success here; whether it validates is the router's concern.
func (a *InstrumentedAdapter) Mark(ctx context.Context, req *marking.Request, strategy prompt.Strategy) (*provider.Output, error) {
	name := a.inner.Name()
	span := trace.SpanFromContext(ctx)
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "provider.mark", trace.WithAttributes(
			attribute.String("provider.name", name),
			attribute.String("marking.strategy", string(strategy)),
			attribute.Int("marking.total_marks", req.TotalMarks),
		))
		defer span.End()
	}

	start := time.Now()
	out, err := a.inner.Mark(ctx, req, strategy)
	elapsed := time.Since(start)

	status := "success"
	switch {
	case err != nil:
		status = errorStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out != nil:
		span.SetAttributes(
			attribute.String("provider.model", out.ModelUsed(name)),
			attribute.Bool("provider.truncated", out.Truncated),
			attribute.Int("provider.output_bytes", len(out.Text)),
		)
	}

	if a.metrics != nil {
		a.metrics.ProviderRequestsTotal.WithLabelValues(name, status).Inc()
		a.metrics.ProviderRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	a.recordHealth(name, err)
	return out, err
}

// recordHealth feeds the anomaly detector. Cancellation says nothing about
// provider health.
func (a *InstrumentedAdapter) recordHealth(name string, err error) {
	if a.anomaly == nil || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		a.anomaly.RecordError(providerOperation(name))
		return
	}
	a.anomaly.RecordSuccess(providerOperation(name))
}

var _ provider.Adapter = (*InstrumentedAdapter)(nil)

// errorStatus labels a failed call with the upstream HTTP status when one
// was received.
func errorStatus(err error) string {
	var pe *marking.ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return strconv.Itoa(pe.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func providerOperation(name string) string {
	return "provider:" + name
}
