// Package cache stores validated marking responses keyed by request
// fingerprint. An external Store is used when configured; a bounded
// in-process map takes over whenever the store fails. Store failures are
// never surfaced to callers.
package cache

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is the lifetime of a cached response.
const DefaultTTL = time.Hour

// Store is a key/value backend with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. Expired entries are reported as absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UnavailableError wraps a failed store operation. It is logged and
// counted, then treated as a miss.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cache store %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
