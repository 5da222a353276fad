// Package ratelimit implements per-user rate limiting on top of
// golang.org/x/time/rate. Each user gets an independent token bucket; idle
// buckets are dropped by Prune.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a user has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter is a per-user rate limiter. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	users    map[string]*userLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
	disabled bool
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		users:    make(map[string]*userLimiter),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
		now:      time.Now,
		disabled: cfg.RequestsPerMinute <= 0,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow consumes one token for userID. Returns ErrRateLimited if the bucket
// is empty.
func (l *Limiter) Allow(userID string) error {
	if l.disabled {
		return nil
	}

	now := l.now()
	l.mu.Lock()
	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	l.mu.Unlock()

	if !u.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Prune drops buckets unused for longer than idle and returns how many were
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, u := range l.users {
		if u.lastSeen.Before(cutoff) {
			delete(l.users, id)
			n++
		}
	}
	return n
}
