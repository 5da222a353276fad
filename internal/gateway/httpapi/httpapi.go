// Package httpapi implements the HTTP marking gateway.
//
// Security:
//   - API key authentication on /v1 routes (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - Provider diagnostics are logged, never returned to callers
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/alama/internal/gateway"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/observability"
	"github.com/jkaninda/alama/internal/ratelimit"
	"github.com/jkaninda/alama/internal/router"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	userIDKey             = "userID"
	requestIDHeader       = "X-Request-ID"
)

// Marker is the routing surface the gateway needs.
type Marker interface {
	Mark(ctx context.Context, req *marking.Request, tier marking.Tier, preferred string) (*router.Result, error)
	Providers() []router.ProviderConfig
}

// Invalidator drops a cached response by fingerprint.
type Invalidator interface {
	Invalidate(ctx context.Context, fingerprint string)
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping.
	ProUsers       []string          // User IDs billed on the PRO tier.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.
	RequestTimeout time.Duration     // Bound on one marking request. 0 = none beyond the client's.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
	Anomaly         *observability.AnomalyDetector  // Recent provider error rates for /v1/providers.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	marker   Marker
	cache    Invalidator // nil = cache invalidation endpoint disabled.
	limiter  *ratelimit.Limiter
	proUsers map[string]struct{}
	logger   *slog.Logger
	server   *http.Server

	okapi      *okapi.Okapi
	routesOnce sync.Once
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, m Marker, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	pro := make(map[string]struct{}, len(cfg.ProUsers))
	for _, u := range cfg.ProUsers {
		pro[u] = struct{}{}
	}
	return &Gateway{
		config:   cfg,
		marker:   m,
		limiter:  rl,
		proUsers: pro,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithCache enables DELETE /v1/mark/cache/{fingerprint}.
func (g *Gateway) WithCache(c Invalidator) *Gateway {
	g.cache = c
	return g
}

// Handler returns the gateway's HTTP handler with all routes mounted.
func (g *Gateway) Handler() http.Handler {
	g.routesOnce.Do(g.mountRoutes)
	return g.okapi
}

func (g *Gateway) mountRoutes() {
	v1 := g.okapi.Group("/v1", observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer), g.authenticate)

	v1.Post("/mark", g.handleMark,
		okapi.DocSummary("Mark a student answer"),
		okapi.DocTags("Marking"),
		okapi.DocRequestBody(MarkRequest{}),
		okapi.DocResponse(MarkResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	v1.Get("/providers", g.handleProviders,
		okapi.DocSummary("List marking providers visible to the caller"),
		okapi.DocTags("Marking"),
		okapi.DocResponse([]ProviderResponse{}),
	)
	if g.cache != nil {
		v1.Delete("/mark/cache/{fingerprint}", g.handleInvalidate,
			okapi.DocSummary("Drop a cached marking result"),
			okapi.DocTags("Marking"),
			okapi.DocPathParam("fingerprint", "string", "Request fingerprint"),
			okapi.DocResponse(okapi.M{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.okapi.WithOpenAPIDocs(okapi.OpenAPI{
			Title:   "Alama",
			Version: "v1",
		})
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routesOnce.Do(g.mountRoutes)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Marking can spend several provider timeouts plus backoff.
		WriteTimeout: g.writeTimeout(),
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.InfoContext(ctx, "http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) writeTimeout() time.Duration {
	if g.config.RequestTimeout > 0 {
		return g.config.RequestTimeout + 10*time.Second
	}
	return 5 * time.Minute
}

// --- Handlers ---

// MarkRequest is the JSON body for POST /v1/mark.
type MarkRequest struct {
	Question          string `json:"question"`
	Answer            string `json:"answer"`
	MarkScheme        string `json:"markScheme,omitempty"`
	TotalMarks        int    `json:"totalMarks,omitempty"`
	Subject           string `json:"subject,omitempty"`
	ExamBoard         string `json:"examBoard,omitempty"`
	PreferredProvider string `json:"preferredProvider,omitempty"`
}

func (r *MarkRequest) toMarking() *marking.Request {
	return &marking.Request{
		Question:   r.Question,
		Answer:     r.Answer,
		MarkScheme: r.MarkScheme,
		TotalMarks: r.TotalMarks,
		Subject:    r.Subject,
		ExamBoard:  r.ExamBoard,
	}
}

// MarkResponse is the JSON response for POST /v1/mark.
type MarkResponse struct {
	marking.Response
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint"`
	Cached      bool   `json:"cached"`
	Provider    string `json:"provider,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

func (g *Gateway) handleMark(c *okapi.Context) error {
	userID := c.GetString(userIDKey)
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	r := c.Request()
	r.Body = http.MaxBytesReader(nil, r.Body, g.config.MaxRequestSize)

	var body MarkRequest
	if err := c.Bind(&body); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	requestID := c.Header(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	tier := g.tierFor(userID)

	ctx := c.Context()
	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}

	g.logger.InfoContext(ctx, "http mark request",
		slog.String("user_id", userID),
		slog.String("request_id", requestID),
		slog.String("tier", string(tier)),
		slog.String("preferred_provider", body.PreferredProvider),
	)

	res, err := g.marker.Mark(ctx, body.toMarking(), tier, body.PreferredProvider)
	if err != nil {
		return g.markError(c, requestID, err)
	}

	return c.OK(MarkResponse{
		Response:    *res.Response,
		RequestID:   requestID,
		Fingerprint: res.Fingerprint,
		Cached:      res.Cached,
		Provider:    res.Provider,
		Strategy:    string(res.Strategy),
		Fallback:    res.Fallback,
		Attempts:    res.Attempts,
	})
}

// markError maps router errors to responses that never expose provider
// diagnostics.
func (g *Gateway) markError(c *okapi.Context, requestID string, err error) error {
	if errors.Is(err, marking.ErrInvalidRequest) {
		msg := strings.TrimPrefix(err.Error(), marking.ErrInvalidRequest.Error()+": ")
		return c.AbortBadRequest(msg)
	}
	g.logger.ErrorContext(c.Context(), "marking failed",
		slog.String("request_id", requestID),
		slog.String("error", err.Error()),
	)
	return c.AbortServiceUnavailable("marking service temporarily unavailable")
}

// ProviderResponse describes one routing candidate.
type ProviderResponse struct {
	Name      string `json:"name"`
	Tier      string `json:"tier"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
	// RecentErrorRate covers the anomaly window; omitted until the
	// provider has been called.
	RecentErrorRate *float64 `json:"recentErrorRate,omitempty"`
	RecentCalls     int      `json:"recentCalls,omitempty"`
}

func (g *Gateway) handleProviders(c *okapi.Context) error {
	tier := g.tierFor(c.GetString(userIDKey))
	out := make([]ProviderResponse, 0)
	for _, p := range g.marker.Providers() {
		if !tier.CanUse(p.Tier) {
			continue
		}
		resp := ProviderResponse{
			Name:      p.Name,
			Tier:      string(p.Tier),
			Priority:  p.Priority,
			Available: p.Available,
		}
		if rate, calls := g.config.Anomaly.ProviderErrorRate(p.Name); calls > 0 {
			resp.RecentErrorRate = &rate
			resp.RecentCalls = calls
		}
		out = append(out, resp)
	}
	return c.OK(out)
}

func (g *Gateway) handleInvalidate(c *okapi.Context) error {
	fp := strings.TrimSpace(c.Param("fingerprint"))
	if fp == "" {
		return c.AbortBadRequest("fingerprint is required")
	}
	g.cache.Invalidate(c.Context(), fp)
	g.logger.InfoContext(c.Context(), "cache entry invalidated",
		slog.String("user_id", c.GetString(userIDKey)),
		slog.String("fingerprint", fp),
	)
	return c.OK(okapi.M{"status": "invalidated", "fingerprint": fp})
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness answers 503 only when a required check fails; a degraded
// instance still takes traffic.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.Ready() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key and stores the mapped user ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, uid := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = uid
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func (g *Gateway) tierFor(userID string) marking.Tier {
	if _, ok := g.proUsers[userID]; ok {
		return marking.TierPro
	}
	return marking.TierFree
}
