package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/alama/internal/marking"
)

// DefaultOperationTimeout bounds each external store call.
const DefaultOperationTimeout = 2 * time.Second

// Cache maps request fingerprints to validated responses.
type Cache struct {
	store     Store // nil = memory only
	fallback  *MemoryStore
	ttl       time.Duration
	opTimeout time.Duration
	metrics   *Metrics
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime (default 1h).
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFallback replaces the in-process store.
func WithFallback(m *MemoryStore) Option {
	return func(c *Cache) {
		if m != nil {
			c.fallback = m
		}
	}
}

// WithOperationTimeout bounds each external store call (default 2s).
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithMetrics enables cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over store. A nil store keeps everything in memory.
func New(store Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		fallback:  NewMemoryStore(DefaultMaxEntries),
		ttl:       DefaultTTL,
		opTimeout: DefaultOperationTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up the response cached for req.
func (c *Cache) Get(ctx context.Context, req *marking.Request) (*marking.Response, bool) {
	return c.GetByFingerprint(ctx, marking.Fingerprint(req))
}

// GetByFingerprint looks up a response by request fingerprint. The returned
// response is a copy the caller may modify.
func (c *Cache) GetByFingerprint(ctx context.Context, fp string) (*marking.Response, bool) {
	key := marking.CacheKey(fp)

	if c.store != nil {
		data, ok, err := c.storeGet(ctx, key)
		if err != nil {
			c.warn(ctx, &UnavailableError{Op: "get", Err: err}, fp)
		} else if ok {
			if resp, ok := c.decode(ctx, data, fp); ok {
				return resp, true
			}
		}
	}

	data, ok, _ := c.fallback.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return c.decode(ctx, data, fp)
}

// Set caches resp for req. Failures are logged and absorbed.
func (c *Cache) Set(ctx context.Context, req *marking.Request, resp *marking.Response) {
	fp := marking.Fingerprint(req)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
		return
	}
	key := marking.CacheKey(fp)

	if c.store != nil {
		err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.store.Set(ctx, key, data, c.ttl)
		})
		if err == nil {
			return
		}
		c.warn(ctx, &UnavailableError{Op: "set", Err: err}, fp)
	}
	_ = c.fallback.Set(ctx, key, data, c.ttl)
}

// Invalidate removes the entry for fingerprint fp from every tier.
func (c *Cache) Invalidate(ctx context.Context, fp string) {
	key := marking.CacheKey(fp)
	if c.store != nil {
		err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.store.Delete(ctx, key)
		})
		if err != nil {
			c.warn(ctx, &UnavailableError{Op: "delete", Err: err}, fp)
		}
	}
	_ = c.fallback.Delete(ctx, key)
}

// PurgeExpired drops expired entries from the memory tier and from the
// external store when it supports bulk expiry.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	n, _ := c.fallback.PurgeExpired(ctx)
	p, ok := c.store.(Purger)
	if !ok {
		return n, nil
	}
	m, err := p.PurgeExpired(ctx)
	if err != nil {
		return n, &UnavailableError{Op: "purge", Err: err}
	}
	return n + m, nil
}

// Ping reports whether the external store is reachable. A memory-only
// cache is always ready.
func (c *Cache) Ping(ctx context.Context) error {
	p, ok := c.store.(Pinger)
	if !ok {
		return nil
	}
	return c.withTimeout(ctx, p.Ping)
}

func (c *Cache) storeGet(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		ok   bool
	)
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		data, ok, err = c.store.Get(ctx, key)
		return err
	})
	return data, ok, err
}

func (c *Cache) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Cache) decode(ctx context.Context, data []byte, fp string) (*marking.Response, bool) {
	var resp marking.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.WarnContext(ctx, "cache entry undecodable, treating as miss",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return &resp, true
}

func (c *Cache) warn(ctx context.Context, err *UnavailableError, fp string) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	c.logger.WarnContext(ctx, "cache store unavailable, using memory fallback",
		slog.String("op", err.Op),
		slog.String("fingerprint", fp),
		slog.String("error", err.Err.Error()),
	)
	if c.metrics != nil {
		c.metrics.StoreErrors.WithLabelValues(err.Op).Inc()
	}
}
