// Package router drives a marking request through the configured providers.
//
// For each request the router checks the cache, orders the eligible
// providers, and runs each provider through a bounded retry loop with
// strict validation, followed optionally by one lenient attempt per fallback
// prompt strategy. The first validated response is cached and returned.
// Once every provider is exhausted the caller receives a single
// *marking.AllProvidersFailedError.
package router

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jkaninda/alama/internal/cache"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/prompt"
	"github.com/jkaninda/alama/internal/provider"
	"github.com/jkaninda/alama/internal/validation"
)

const (
	// DefaultMaxRetries is the per-provider attempt budget.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds a single adapter call.
	DefaultTimeout = 30 * time.Second
	// DefaultInitialBackoff is the delay after the first failed attempt.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the delay between attempts.
	DefaultMaxBackoff = 5 * time.Second
)

// ProviderConfig is the routing view of one provider. It is read-only once
// the router is built.
type ProviderConfig struct {
	Name       string
	Tier       marking.Tier
	MaxRetries int
	Timeout    time.Duration
	Priority   int  // lower runs first
	Available  bool // false when the provider could not be initialised
}

func (p ProviderConfig) retries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return DefaultMaxRetries
}

func (p ProviderConfig) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

// Candidate pairs a provider's routing config with its adapter.
type Candidate struct {
	Config  ProviderConfig
	Adapter provider.Adapter
}

// Result is a marking response plus how it was obtained.
type Result struct {
	Response *marking.Response
	Cached   bool
	Provider string
	Strategy prompt.Strategy
	// Fallback is true when the response came from a lenient fallback
	// strategy and may contain placeholder fields.
	Fallback    bool
	Attempts    int // adapter calls made for this request
	Fingerprint string
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Router is safe for concurrent use. Attempts for one request run strictly
// in sequence.
type Router struct {
	candidates       []Candidate
	cache            *cache.Cache
	validator        *validation.Validator
	logger           *slog.Logger
	recorder         Recorder
	sleep            Sleeper
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	strategyFallback bool
}

// Option configures a Router.
type Option func(*Router)

// WithBackoff sets the initial and maximum delay between attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(r *Router) {
		if initial > 0 {
			r.initialBackoff = initial
		}
		if maxDelay > 0 {
			r.maxBackoff = maxDelay
		}
	}
}

// WithSleeper replaces the delay function used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(r *Router) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithStrategyFallback enables lenient fallback strategies after a provider
// exhausts its retries.
func WithStrategyFallback(enabled bool) Option {
	return func(r *Router) { r.strategyFallback = enabled }
}

// WithRecorder installs an outcome recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// New creates a router over candidates. Candidate order breaks priority
// ties. A nil cache disables caching.
func New(candidates []Candidate, c *cache.Cache, v *validation.Validator, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		candidates:     slices.Clone(candidates),
		cache:          c,
		validator:      v,
		logger:         logger,
		recorder:       nopRecorder{},
		sleep:          sleepContext,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	slices.SortStableFunc(r.candidates, func(a, b Candidate) int {
		return cmp.Compare(a.Config.Priority, b.Config.Priority)
	})
	return r
}

// Providers returns the routing config of every candidate in priority order.
func (r *Router) Providers() []ProviderConfig {
	out := make([]ProviderConfig, len(r.candidates))
	for i, c := range r.candidates {
		out[i] = c.Config
	}
	return out
}

// Mark returns a validated response for req. The only errors are
// marking.ErrInvalidRequest for malformed input and
// *marking.AllProvidersFailedError once processing has started.
func (r *Router) Mark(ctx context.Context, req *marking.Request, tier marking.Tier, preferred string) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fp := marking.Fingerprint(req)

	if r.cache != nil {
		if resp, ok := r.cache.GetByFingerprint(ctx, fp); ok {
			r.recorder.RecordCacheLookup(true)
			r.logger.InfoContext(ctx, "marking cache hit",
				slog.String("fingerprint", fp),
				slog.String("model_used", resp.ModelUsed),
			)
			return &Result{Response: resp, Cached: true, Fingerprint: fp}, nil
		}
		r.recorder.RecordCacheLookup(false)
	}

	candidates := r.eligible(tier, preferred)
	if len(candidates) == 0 {
		r.logger.ErrorContext(ctx, "no eligible provider",
			slog.String("tier", string(tier)),
			slog.String("preferred", preferred),
		)
	}

	var (
		failures []marking.ProviderFailure
		total    int
	)
	for i, c := range candidates {
		if i > 0 {
			r.recorder.RecordFallback(FallbackProvider)
			r.logger.WarnContext(ctx, "provider fallback triggered",
				slog.String("from", candidates[i-1].Config.Name),
				slog.String("to", c.Config.Name),
			)
		}

		res, failure := r.runProvider(ctx, req, c, &total)
		if res != nil {
			res.Attempts = total
			res.Fingerprint = fp
			if r.cache != nil {
				r.cache.Set(ctx, req, res.Response)
			}
			r.logger.InfoContext(ctx, "marking succeeded",
				slog.String("provider", res.Provider),
				slog.String("strategy", string(res.Strategy)),
				slog.String("model_used", res.Response.ModelUsed),
				slog.Int("score", res.Response.Score),
				slog.String("grade", res.Response.Grade),
				slog.Int("attempts", total),
				slog.Bool("fallback", res.Fallback),
			)
			return res, nil
		}
		failures = append(failures, failure)
		if ctx.Err() != nil {
			break
		}
	}

	err := &marking.AllProvidersFailedError{Failures: failures, Cause: ctx.Err()}
	r.recorder.RecordTerminalFailure()
	r.logger.ErrorContext(ctx, "all providers failed",
		slog.String("fingerprint", fp),
		slog.Int("providers", len(failures)),
		slog.Int("attempts", total),
		slog.String("error", err.Error()),
	)
	return nil, err
}

// eligible returns the available providers the tier may use, with the
// preferred provider moved to the front when present.
func (r *Router) eligible(tier marking.Tier, preferred string) []Candidate {
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c.Config.Available && tier.CanUse(c.Config.Tier) {
			out = append(out, c)
		}
	}
	if preferred == "" {
		return out
	}
	if i := slices.IndexFunc(out, func(c Candidate) bool { return c.Config.Name == preferred }); i > 0 {
		p := out[i]
		copy(out[1:i+1], out[:i])
		out[0] = p
	}
	return out
}

// runProvider spends one provider's retry budget and, when enabled, its
// fallback strategies.
func (r *Router) runProvider(ctx context.Context, req *marking.Request, c Candidate, total *int) (*Result, marking.ProviderFailure) {
	name := c.Config.Name
	maxRetries := c.Config.retries()
	failure := marking.ProviderFailure{Provider: name}
	bo := r.newBackoff()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		failure.Attempts++
		*total++
		resp, err := r.attempt(ctx, req, c, prompt.Primary, attempt)
		if err == nil {
			return &Result{Response: resp, Provider: name, Strategy: prompt.Primary}, failure
		}
		failure.Err = err
		if ctx.Err() != nil || !marking.Retryable(err) {
			return nil, failure
		}
		if attempt < maxRetries {
			if err := r.sleep(ctx, bo.NextBackOff()); err != nil {
				return nil, failure
			}
		}
	}

	if !r.strategyFallback {
		return nil, failure
	}
	for _, s := range prompt.FallbackStrategies {
		r.recorder.RecordFallback(FallbackStrategy)
		r.logger.WarnContext(ctx, "strategy fallback triggered",
			slog.String("provider", name),
			slog.String("strategy", string(s)),
		)
		failure.Attempts++
		*total++
		resp, err := r.attempt(ctx, req, c, s, failure.Attempts)
		if err == nil {
			return &Result{Response: resp, Provider: name, Strategy: s, Fallback: true}, failure
		}
		failure.Err = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, failure
}

type callResult struct {
	out *provider.Output
	err error
}

// attempt makes one adapter call raced against the provider timeout and
// validates the output in the strategy's mode.
func (r *Router) attempt(ctx context.Context, req *marking.Request, c Candidate, strategy prompt.Strategy, n int) (*marking.Response, error) {
	name := c.Config.Name
	timeout := c.Config.timeout()
	start := time.Now()

	r.logger.DebugContext(ctx, "marking attempt started",
		slog.String("provider", name),
		slog.String("strategy", string(strategy)),
		slog.Int("attempt", n),
	)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late result is dropped once the race is lost.
	done := make(chan callResult, 1)
	go func() {
		out, err := c.Adapter.Mark(callCtx, req, strategy)
		done <- callResult{out: out, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if res.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.err = &marking.TimeoutError{Provider: name, Timeout: timeout}
	}

	var resp *marking.Response
	err := res.err
	if err == nil && res.out == nil {
		err = &marking.ProviderError{Provider: name, Err: marking.ErrEmptyResponse}
	}
	if err == nil {
		resp, err = r.validator.Parse(res.out.Text, res.out.ModelUsed(name), req.MaxScore(), strategy.Mode())
	}

	elapsed := time.Since(start)
	outcome := classify(err)
	r.recorder.RecordAttempt(ctx, name, strategy, outcome, elapsed)

	if err != nil {
		r.logger.WarnContext(ctx, "marking attempt failed",
			slog.String("provider", name),
			slog.String("strategy", string(strategy)),
			slog.Int("attempt", n),
			slog.Duration("elapsed", elapsed),
			slog.String("reason", string(outcome)),
			slog.String("error", marking.Excerpt(err.Error())),
		)
		return nil, err
	}
	return resp, nil
}

func (r *Router) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.MaxInterval = r.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
