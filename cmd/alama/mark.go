package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/alama/internal/marking"
)

var (
	markReq      marking.Request
	markFile     string
	markTier     string
	markProvider string
)

var markCmd = &cobra.Command{
	Use:   "mark",
	Short: "Mark one answer and print the result as JSON",
	Example: `  alama mark --question "What is 2+2?" --answer "4" --total-marks 1
  alama mark --file request.json --tier pro`,
	RunE: runMark,
}

func init() {
	f := markCmd.Flags()
	f.StringVar(&markReq.Question, "question", "", "exam question")
	f.StringVar(&markReq.Answer, "answer", "", "student answer")
	f.StringVar(&markReq.MarkScheme, "mark-scheme", "", "optional mark scheme")
	f.IntVar(&markReq.TotalMarks, "total-marks", 0, "marks available (0 = out of 100)")
	f.StringVar(&markReq.Subject, "subject", "", "subject")
	f.StringVar(&markReq.ExamBoard, "exam-board", "", "exam board")
	f.StringVar(&markFile, "file", "", "read the request from a JSON file instead of flags")
	f.StringVar(&markTier, "tier", string(marking.TierFree), "caller tier (free or pro)")
	f.StringVar(&markProvider, "provider", "", "preferred provider name")
}

// markOutput is printed to stdout.
type markOutput struct {
	RequestID   string            `json:"requestId"`
	Fingerprint string            `json:"fingerprint"`
	Cached      bool              `json:"cached"`
	Provider    string            `json:"provider,omitempty"`
	Strategy    string            `json:"strategy,omitempty"`
	Fallback    bool              `json:"fallback,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	Response    *marking.Response `json:"response"`
}

func runMark(_ *cobra.Command, _ []string) error {
	req := markReq
	if markFile != "" {
		data, err := os.ReadFile(markFile)
		if err != nil {
			return fmt.Errorf("reading request file: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parsing request file: %w", err)
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	tier, err := marking.ParseTier(markTier)
	if err != nil {
		return err
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

	requestID := uuid.NewString()
	res, err := sc.Router.Mark(ctx, &req, tier, markProvider)
	if err != nil {
		return fmt.Errorf("request %s: %w", requestID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(markOutput{
		RequestID:   requestID,
		Fingerprint: res.Fingerprint,
		Cached:      res.Cached,
		Provider:    res.Provider,
		Strategy:    string(res.Strategy),
		Fallback:    res.Fallback,
		Attempts:    res.Attempts,
		Response:    res.Response,
	})
}
