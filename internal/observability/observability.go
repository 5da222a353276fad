// Package observability instruments marking: Prometheus metrics, OpenTelemetry
// spans around provider calls, readiness checks and a provider error-rate
// watcher. Every component is optional and every accessor is nil-safe.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/provider"
	"github.com/jkaninda/alama/internal/router"
)

// Observability bundles the enabled components. Any field may be nil.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker

	logger *slog.Logger
}

// Option adjusts how New builds the components.
type Option func(*options)

type options struct {
	serviceVersion string
}

// WithServiceVersion tags exported spans with the binary version.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.serviceVersion = v }
}

// New builds the components enabled in cfg. A nil cfg yields a nil
// *Observability, which every method accepts.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger, opts ...Option) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	obs := &Observability{
		Health: NewHealthChecker(logger),
		logger: logger,
	}
	if m := cfg.Metrics; m != nil && m.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if t := cfg.Tracing; t != nil && t.Enabled {
		ts, err := NewTracerSetup(context.Background(), t, o.serviceVersion)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if a := cfg.Anomaly; a != nil && a.Enabled {
		obs.Anomaly = NewAnomalyDetector(a, logger)
	}
	return obs, nil
}

// Instrument wraps a provider adapter so each call is counted, traced and
// fed to the anomaly detector. With nothing enabled the adapter is returned
// unchanged.
func (o *Observability) Instrument(a provider.Adapter) provider.Adapter {
	if a == nil || (o.MetricsOrNil() == nil && o.TracerOrNil() == nil && o.AnomalyOrNil() == nil) {
		return a
	}
	return NewInstrumentedAdapter(a, o.Metrics, o.Tracer, o.Anomaly)
}

// Recorder returns the router hook for attempt outcomes, cache lookups and
// fallbacks.
func (o *Observability) Recorder() router.Recorder {
	return NewRouterRecorder(o.MetricsOrNil(), o.AnomalyOrNil())
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	if err := o.Tracer.Shutdown(ctx); err != nil {
		o.logger.WarnContext(ctx, "flushing traces", slog.String("error", err.Error()))
	}
}

// TracerOrNil returns the tracer setup, or nil when tracing is off.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

// MetricsOrNil returns the metrics collector, or nil when metrics are off.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// AnomalyOrNil returns the anomaly detector, or nil when it is off.
func (o *Observability) AnomalyOrNil() *AnomalyDetector {
	if o == nil {
		return nil
	}
	return o.Anomaly
}
