// Package mcp exposes marking as a Model Context Protocol tool served over
// stdio, so assistants and editors can call the router directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/alama/internal/gateway"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/router"
)

// ToolName is the name the marking tool is published under.
const ToolName = "mark_answer"

// Marker is the routing surface the gateway needs.
type Marker interface {
	Mark(ctx context.Context, req *marking.Request, tier marking.Tier, preferred string) (*router.Result, error)
}

// Gateway serves the marking tool on stdin/stdout.
type Gateway struct {
	marker  Marker
	tier    marking.Tier
	server  *server.MCPServer
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	version string
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates an MCP gateway. Every tool call is routed on tier.
func NewGateway(m Marker, tier marking.Tier, version string, logger *slog.Logger) *Gateway {
	g := &Gateway{
		marker:  m,
		tier:    tier,
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  logger,
		version: version,
	}
	g.server = server.NewMCPServer("alama", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	g.server.AddTool(markTool(), g.handleMark)
	return g
}

// Server returns the underlying MCP server, e.g. for in-process clients.
func (g *Gateway) Server() *server.MCPServer { return g.server }

// Start serves requests until ctx is canceled or stdin closes.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.InfoContext(ctx, "mcp gateway starting",
		slog.String("tool", ToolName),
		slog.String("tier", string(g.tier)),
	)
	err := server.NewStdioServer(g.server).Listen(ctx, g.in, g.out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

// Stop is a no-op; the stdio server exits when its context is canceled.
func (g *Gateway) Stop(context.Context) error { return nil }

func markTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Mark a student's answer to an exam question and return a score, grade and feedback."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The exam question.")),
		mcp.WithString("answer", mcp.Required(), mcp.Description("The student's answer.")),
		mcp.WithString("markScheme", mcp.Description("Optional mark scheme or rubric.")),
		mcp.WithNumber("totalMarks", mcp.Description("Marks available. The score is out of 100 when omitted.")),
		mcp.WithString("subject", mcp.Description("Subject, e.g. Mathematics.")),
		mcp.WithString("examBoard", mcp.Description("Exam board, e.g. AQA.")),
		mcp.WithString("preferredProvider", mcp.Description("Provider to try first.")),
	)
}

func (g *Gateway) handleMark(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := &marking.Request{
		Question:   call.GetString("question", ""),
		Answer:     call.GetString("answer", ""),
		MarkScheme: call.GetString("markScheme", ""),
		TotalMarks: call.GetInt("totalMarks", 0),
		Subject:    call.GetString("subject", ""),
		ExamBoard:  call.GetString("examBoard", ""),
	}

	res, err := g.marker.Mark(ctx, req, g.tier, call.GetString("preferredProvider", ""))
	if err != nil {
		if errors.Is(err, marking.ErrInvalidRequest) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		g.logger.ErrorContext(ctx, "mcp marking failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("marking service temporarily unavailable"), nil
	}

	data, err := json.Marshal(res.Response)
	if err != nil {
		return nil, fmt.Errorf("encoding marking response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
