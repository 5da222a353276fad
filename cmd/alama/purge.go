package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries now",
	RunE:  runPurge,
}

func runPurge(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	if cfg.Cache.StoreKind() != "database" {
		return fmt.Errorf("cache.store is %q; only the database store persists entries", cfg.Cache.StoreKind())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating cache store: %w", err)
	}

	n, err := st.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	logger.Info("cache purged", slog.String("driver", st.Driver()), slog.Int64("removed", n))
	fmt.Printf("removed %d expired entries\n", n)
	return nil
}
