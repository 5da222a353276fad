// Package batch implements a JSON-lines gateway: one marking request per
// input line, one result per output line, in input order.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/alama/internal/gateway"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/router"
)

const maxLineBytes = 1 << 20

// Marker is the routing surface the gateway needs.
type Marker interface {
	Mark(ctx context.Context, req *marking.Request, tier marking.Tier, preferred string) (*router.Result, error)
}

// Line is one input record.
type Line struct {
	ID                string `json:"id,omitempty"`
	Question          string `json:"question"`
	Answer            string `json:"answer"`
	MarkScheme        string `json:"markScheme,omitempty"`
	TotalMarks        int    `json:"totalMarks,omitempty"`
	Subject           string `json:"subject,omitempty"`
	ExamBoard         string `json:"examBoard,omitempty"`
	PreferredProvider string `json:"preferredProvider,omitempty"`
}

// Result is one output record. Exactly one of Response and Error is set.
// Placeholder accompanies a provider failure so consumers that persist
// submissions can record the failed attempt; it is never a marking result.
type Result struct {
	Line        int               `json:"line"`
	ID          string            `json:"id,omitempty"`
	Response    *marking.Response `json:"response,omitempty"`
	Error       string            `json:"error,omitempty"`
	Placeholder *marking.Response `json:"placeholder,omitempty"`
	Cached      bool              `json:"cached,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`

	invalid bool
}

// errCanceled is reported for lines the batch never got to mark.
const errCanceled = "canceled"

// Summary counts processed lines.
type Summary struct {
	Total   int
	Marked  int
	Cached  int
	Failed  int
	Invalid int
}

// Gateway reads requests from in and writes results to out.
type Gateway struct {
	marker      Marker
	tier        marking.Tier
	concurrency int
	in          io.Reader
	out         io.Writer
	logger      *slog.Logger
	summary     Summary
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates a batch gateway. concurrency below 1 means sequential.
func NewGateway(m Marker, tier marking.Tier, concurrency int, in io.Reader, out io.Writer, logger *slog.Logger) *Gateway {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Gateway{
		marker:      m,
		tier:        tier,
		concurrency: concurrency,
		in:          in,
		out:         out,
		logger:      logger,
	}
}

// Start processes every input line and returns once all results are written.
// A canceled context stops scheduling new lines; those still get a result
// whose error is "canceled".
func (g *Gateway) Start(ctx context.Context) error {
	g.summary = Summary{}

	var lines []string
	scanner := bufio.NewScanner(g.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	results := make([]*Result, len(lines))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			results[i] = g.markLine(egCtx, i+1, raw)
			return nil
		})
	}
	_ = eg.Wait()

	enc := json.NewEncoder(g.out)
	for i, r := range results {
		if r == nil {
			if strings.TrimSpace(lines[i]) == "" {
				continue
			}
			r = canceledLine(i+1, lines[i])
		}
		g.count(r)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("writing result for line %d: %w", r.Line, err)
		}
	}

	g.logger.InfoContext(ctx, "batch complete",
		slog.Int("total", g.summary.Total),
		slog.Int("marked", g.summary.Marked),
		slog.Int("cached", g.summary.Cached),
		slog.Int("failed", g.summary.Failed),
		slog.Int("invalid", g.summary.Invalid),
	)
	return ctx.Err()
}

// Stop is a no-op; cancel the Start context to abort a batch.
func (g *Gateway) Stop(context.Context) error { return nil }

// Summary returns counts for the last completed Start.
func (g *Gateway) Summary() Summary { return g.summary }

func (g *Gateway) markLine(ctx context.Context, n int, raw string) *Result {
	var line Line
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return &Result{Line: n, Error: "invalid JSON: " + err.Error(), invalid: true}
	}
	res := &Result{Line: n, ID: line.ID}

	out, err := g.marker.Mark(ctx, &marking.Request{
		Question:   line.Question,
		Answer:     line.Answer,
		MarkScheme: line.MarkScheme,
		TotalMarks: line.TotalMarks,
		Subject:    line.Subject,
		ExamBoard:  line.ExamBoard,
	}, g.tier, line.PreferredProvider)
	switch {
	case errors.Is(err, marking.ErrInvalidRequest):
		res.Error = err.Error()
		res.invalid = true
	case err != nil && ctx.Err() != nil:
		res.Error = errCanceled
	case err != nil:
		g.logger.ErrorContext(ctx, "batch line failed",
			slog.Int("line", n),
			slog.String("id", line.ID),
			slog.String("error", err.Error()),
		)
		res.Error = "marking service temporarily unavailable"
		res.Placeholder = marking.ProcessingError("")
	default:
		res.Response = out.Response
		res.Cached = out.Cached
		res.Fingerprint = out.Fingerprint
	}
	return res
}

func canceledLine(n int, raw string) *Result {
	var line Line
	_ = json.Unmarshal([]byte(raw), &line)
	return &Result{Line: n, ID: line.ID, Error: errCanceled}
}

func (g *Gateway) count(r *Result) {
	g.summary.Total++
	switch {
	case r.Response != nil && r.Cached:
		g.summary.Cached++
		g.summary.Marked++
	case r.Response != nil:
		g.summary.Marked++
	case r.invalid:
		g.summary.Invalid++
	default:
		g.summary.Failed++
	}
}
