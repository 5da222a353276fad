package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/alama/internal/cache"
	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/gateway"
	"github.com/jkaninda/alama/internal/gateway/httpapi"
	"github.com/jkaninda/alama/internal/ratelimit"
)

const (
	limiterPruneInterval = 10 * time.Minute
	limiterIdleTTL       = 30 * time.Minute
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP marking API",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}
	logger := newLogger(cfg.LogLevel)
	logger.Info("starting alama", slog.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if sc.Cache != nil {
		janitor := cache.NewJanitor(sc.Cache, cfg.Cache.Schedule(), sc.CacheMetrics, logger)
		stopJanitor, err := janitor.Start(ctx)
		if err != nil {
			return err
		}
		defer stopJanitor()
	}

	gateways := buildGateways(ctx, cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config (set gateways.http.enabled)")
	}

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return nil
}

func buildGateways(ctx context.Context, cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gateways []gateway.Gateway

	if h := cfg.Gateways.HTTP; h != nil && h.Enabled {
		rl := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: h.RateLimit.RequestsPerMinute,
			BurstSize:         h.RateLimit.BurstSize,
		})
		go pruneLimiter(ctx, rl)

		gwCfg := httpapi.Config{
			ListenAddr:     h.Addr(),
			EnableDocs:     h.EnableDocs,
			APIKeys:        h.APIKeyUserMapping,
			ProUsers:       h.ProUsers,
			MaxRequestSize: h.MaxRequestSizeBytes,
			RequestTimeout: h.RequestTimeout(),
			HealthChecker:  sc.Health,
			Anomaly:        sc.Obs.AnomalyOrNil(),
		}
		if m := sc.Obs.MetricsOrNil(); m != nil {
			gwCfg.Metrics = m
			gwCfg.MetricsRegistry = m.Registry
			if mc := cfg.Observability.Metrics; mc != nil {
				gwCfg.MetricsPath = mc.Path
			}
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			gwCfg.Tracer = ts.Tracer()
		}

		gw := httpapi.NewGateway(gwCfg, sc.Router, rl, sc.Logger)
		if sc.Cache != nil {
			gw.WithCache(sc.Cache)
		}
		gateways = append(gateways, gw)
	}

	if m := cfg.Gateways.MCP; m != nil && m.Enabled {
		sc.Logger.Warn("mcp gateway uses stdio; run `alama mcp` instead of serve")
	}
	return gateways
}

func pruneLimiter(ctx context.Context, rl *ratelimit.Limiter) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(limiterIdleTTL)
		}
	}
}
