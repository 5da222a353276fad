package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/alama/internal/cache"
	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/observability"
	"github.com/jkaninda/alama/internal/provider"
	"github.com/jkaninda/alama/internal/router"
	"github.com/jkaninda/alama/internal/secrets"
	"github.com/jkaninda/alama/internal/storage"
	pgstore "github.com/jkaninda/alama/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/alama/internal/storage/sqlite"
	"github.com/jkaninda/alama/internal/validation"
)

// providerHTTPTimeout caps one upstream HTTP exchange. The router applies
// its own per-attempt deadline on top.
const providerHTTPTimeout = 2 * time.Minute

// SharedComponents holds the subsystems every command needs. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger

	Obs          *observability.Observability
	Health       *observability.HealthChecker
	Store        storage.Store // nil unless cache.store=database.
	Cache        *cache.Cache  // nil when caching is disabled.
	CacheMetrics *cache.Metrics
	Router       *router.Router

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config file named by ALAMA_CONFIG or the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(goutils.Env("ALAMA_CONFIG", configPath))
}

// newLogger builds the JSON logger used by every command.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// initShared wires observability, the cache and the router.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger, observability.WithServiceVersion(version))
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	sc.Health = observability.NewHealthChecker(logger)
	if obs != nil && obs.Health != nil {
		sc.Health = obs.Health
	}
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Cache.
	if cfg.Cache.IsEnabled() {
		if err := sc.initCache(ctx); err != nil {
			sc.Cleanup()
			return nil, err
		}
	}

	// Providers.
	candidates, err := buildCandidates(ctx, cfg, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Health.AddCheck("providers", func(context.Context) error {
		for _, c := range candidates {
			if c.Config.Available {
				return nil
			}
		}
		return errors.New("no provider has credentials")
	})

	sc.Router = router.New(candidates, sc.Cache, validation.New(), logger,
		router.WithBackoff(cfg.Routing.InitialBackoff(), cfg.Routing.MaxBackoff()),
		router.WithStrategyFallback(cfg.Routing.StrategyFallbackEnabled()),
		router.WithRecorder(obs.Recorder()),
	)
	logger.Debug("router initialized",
		slog.Int("providers", len(candidates)),
		slog.Bool("strategy_fallback", cfg.Routing.StrategyFallbackEnabled()),
	)

	return sc, nil
}

func (sc *SharedComponents) initCache(ctx context.Context) error {
	cfg, logger := sc.Config, sc.Logger

	if m := sc.Obs.MetricsOrNil(); m != nil {
		sc.CacheMetrics = cache.NewMetrics(m.Registry)
	}

	var store cache.Store
	if cfg.Cache.StoreKind() == "database" {
		st, err := initStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing cache store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return fmt.Errorf("migrating cache store: %w", err)
		}
		sc.Store = st
		sc.addCleanup(func() {
			if err := st.Close(); err != nil {
				logger.Warn("closing cache store", slog.String("error", err.Error()))
			}
		})
		store = st
		logger.Debug("cache store initialized", slog.String("driver", st.Driver()))
	}

	sc.Cache = cache.New(store, logger,
		cache.WithTTL(cfg.Cache.TTL()),
		cache.WithFallback(cache.NewMemoryStore(cfg.Cache.MaxEntries())),
		cache.WithOperationTimeout(cfg.Cache.OperationTimeout()),
		cache.WithMetrics(sc.CacheMetrics),
	)
	sc.Health.AddOptionalCheck("cache_store", sc.Cache.Ping)
	return nil
}

// buildCandidates turns provider config into routing candidates. A provider
// whose credential cannot be resolved stays listed but unavailable.
func buildCandidates(ctx context.Context, cfg *config.Config, obs *observability.Observability, logger *slog.Logger) ([]router.Candidate, error) {
	sp := secrets.Default()
	hc := &http.Client{Timeout: providerHTTPTimeout}

	var candidates []router.Candidate
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		if !pc.IsEnabled() {
			logger.Debug("provider disabled", slog.String("provider", pc.Name))
			continue
		}

		rc := router.ProviderConfig{
			Name:       pc.Name,
			Tier:       pc.ProviderTier(),
			MaxRetries: pc.Retries(),
			Timeout:    pc.Timeout(),
			Priority:   pc.Priority,
			Available:  true,
		}

		adapter, err := provider.FromConfig(ctx, *pc, sp, hc, logger)
		switch {
		case errors.Is(err, provider.ErrMissingCredential):
			logger.Warn("provider unavailable", slog.String("provider", pc.Name), slog.String("error", err.Error()))
			rc.Available = false
		case err != nil:
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		default:
			adapter = obs.Instrument(adapter)
		}

		candidates = append(candidates, router.Candidate{Config: rc, Adapter: adapter})
		logger.Debug("provider configured",
			slog.String("provider", pc.Name),
			slog.String("type", pc.Type),
			slog.String("tier", string(rc.Tier)),
			slog.Bool("available", rc.Available),
		)
	}
	if len(candidates) == 0 {
		return nil, errors.New("no enabled providers in config")
	}
	return candidates, nil
}

// initStore opens the database backing the persistent cache.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(ctx, cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or ALAMA_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if p := cfg.Storage.Postgres; p != nil {
		pgCfg.MaxOpenConns = p.MaxOpenConns
		pgCfg.MaxIdleConns = p.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(p.ConnMaxLifetimeS) * time.Second
	}

	pgDB, err := pgstore.Open(ctx, pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}
