package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// Readiness states. Marking keeps working without its cache store, so a
// failing optional check only degrades the instance.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// HealthChecker aggregates readiness across the cache store and providers.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
	logger *slog.Logger
}

type healthCheck struct {
	name     string
	required bool
	run      func(ctx context.Context) error
}

// HealthStatus is the body served by /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Ready reports whether the instance can take marking traffic.
func (s HealthStatus) Ready() bool { return s.Status != StatusUnavailable }

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a check whose failure makes the instance unavailable.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.add(healthCheck{name: name, required: true, run: check})
}

// AddOptionalCheck registers a check whose failure only degrades the
// instance.
func (h *HealthChecker) AddOptionalCheck(name string, check func(ctx context.Context) error) {
	h.add(healthCheck{name: name, run: check})
}

func (h *HealthChecker) add(c healthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// CheckHealth is the liveness answer: ok while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: StatusOK}
}

// CheckReady runs every check concurrently under a shared timeout.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{Status: StatusOK}
	if len(checks) == 0 {
		return status
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			err := c.run(checkCtx)
			results[i] = CheckResult{Status: "ok", Required: c.required, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = make(map[string]CheckResult, len(checks))
	for i, c := range checks {
		res := results[i]
		status.Checks[c.name] = res
		if res.Status == "ok" {
			continue
		}
		switch {
		case c.required:
			status.Status = StatusUnavailable
		case status.Status == StatusOK:
			status.Status = StatusDegraded
		}
		if h.logger != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", c.name),
				slog.Bool("required", c.required),
				slog.String("error", res.Message),
			)
		}
	}
	return status
}
