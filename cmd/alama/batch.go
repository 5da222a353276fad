package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/alama/internal/gateway/batch"
	"github.com/jkaninda/alama/internal/marking"
)

var (
	batchInput       string
	batchOutput      string
	batchTier        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Mark a JSON-lines file of requests",
	Example: `  alama batch --input answers.jsonl --output results.jsonl --concurrency 4
  cat answers.jsonl | alama batch`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVar(&batchInput, "input", "-", "input file, - for stdin")
	f.StringVar(&batchOutput, "output", "-", "output file, - for stdout")
	f.StringVar(&batchTier, "tier", string(marking.TierFree), "caller tier (free or pro)")
	f.IntVar(&batchConcurrency, "concurrency", 1, "requests marked in parallel")
}

func runBatch(_ *cobra.Command, _ []string) error {
	tier, err := marking.ParseTier(batchTier)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if batchInput != "-" {
		f, err := os.Open(batchInput)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}
	var out io.Writer = os.Stdout
	if batchOutput != "-" {
		f, err := os.Create(batchOutput)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	gw := batch.NewGateway(sc.Router, tier, batchConcurrency, in, out, logger)
	if err := gw.Start(ctx); err != nil {
		return err
	}
	if s := gw.Summary(); s.Failed > 0 {
		return fmt.Errorf("%d of %d requests could not be marked", s.Failed, s.Total)
	}
	return nil
}
