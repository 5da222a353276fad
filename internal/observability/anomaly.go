package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/alama/internal/config"
)

const (
	defaultAnomalyWindow = 300 * time.Second
	minAnomalySamples    = 5
)

// AnomalyDetector performs threshold-based error rate detection per
// operation using sliding windows.
type AnomalyDetector struct {
	mu        sync.Mutex
	errors    map[string]*slidingWindow
	successes map[string]*slidingWindow
	threshold float64
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	if cfg.WindowSeconds > 0 {
		window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	return &AnomalyDetector{
		errors:    make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		threshold: cfg.ErrorRateThreshold,
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (a *AnomalyDetector) WithClock(now func() time.Time) *AnomalyDetector {
	a.now = now
	return a
}

// RecordError records a failed operation and warns when the error rate
// crosses the threshold.
func (a *AnomalyDetector) RecordError(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.errors, operation).add(a.now())
	a.checkErrorRate(operation)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.successes, operation).add(a.now())
}

// ErrorRate returns the error ratio for operation within the window and the
// number of samples it is based on.
func (a *AnomalyDetector) ErrorRate(operation string) (float64, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLocked(operation)
}

// ProviderErrorRate is ErrorRate for the adapter calls made to provider.
func (a *AnomalyDetector) ProviderErrorRate(provider string) (float64, int) {
	return a.ErrorRate(providerOperation(provider))
}

func (a *AnomalyDetector) rateLocked(operation string) (float64, int) {
	now := a.now()
	errs := a.windowFor(a.errors, operation).count(now)
	total := errs + a.windowFor(a.successes, operation).count(now)
	if total == 0 {
		return 0, 0
	}
	return float64(errs) / float64(total), total
}

// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string) {
	if a.threshold <= 0 || a.logger == nil {
		return
	}
	rate, total := a.rateLocked(operation)
	if total < minAnomalySamples {
		return
	}
	if rate > a.threshold {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("operation", operation),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Int("total", total),
		)
	}
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.entries = append(w.entries, now)
	w.prune(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
