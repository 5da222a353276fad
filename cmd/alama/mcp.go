package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpgw "github.com/jkaninda/alama/internal/gateway/mcp"
	"github.com/jkaninda/alama/internal/marking"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the mark_answer tool over MCP stdio",
	RunE:  runMCP,
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	tier := marking.TierFree
	if m := cfg.Gateways.MCP; m != nil && m.Tier != "" {
		if tier, err = marking.ParseTier(m.Tier); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	return mcpgw.NewGateway(sc.Router, tier, version, logger).Start(ctx)
}
