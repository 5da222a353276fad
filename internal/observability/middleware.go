package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsMiddleware records request counts, latency and a span for every
// request handled by okapi. metrics and tracer may be nil.
func MetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()
			route := routeLabel(r.URL.Path)

			span := trace.SpanFromContext(r.Context())
			if tracer != nil {
				_, span = tracer.Start(r.Context(), "http "+r.Method+" "+route, trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", route),
				))
				defer span.End()
			}
			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()
			err := next(c)

			code := c.Response().StatusCode()
			if code == 0 {
				code = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", code))
			if code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(code))
			}
			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}
			return err
		}
	}
}

// routeLabel collapses per-fingerprint cache paths so label cardinality
// stays bounded.
func routeLabel(path string) string {
	const cachePrefix = "/v1/mark/cache/"
	if strings.HasPrefix(path, cachePrefix) && len(path) > len(cachePrefix) {
		return cachePrefix + "{fingerprint}"
	}
	return path
}
