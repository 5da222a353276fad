package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/router"
)

type stubMarker struct {
	err      error
	lastReq  *marking.Request
	lastTier marking.Tier
}

func (s *stubMarker) Mark(_ context.Context, req *marking.Request, tier marking.Tier, _ string) (*router.Result, error) {
	s.lastReq, s.lastTier = req, tier
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &router.Result{Response: &marking.Response{Score: 6, Grade: "6", ModelUsed: "ollama/llama3"}}, nil
}

func connect(t *testing.T, m Marker) *mcpclient.Client {
	t.Helper()
	g := NewGateway(m, marking.TierPro, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))

	c, err := mcpclient.NewInProcessClient(g.Server())
	if err != nil {
		t.Fatalf("in-process client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "alama-test", Version: "0.0.1"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}

func callMark(t *testing.T, c *mcpclient.Client, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestListTools(t *testing.T) {
	c := connect(t, &stubMarker{})
	list, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != ToolName {
		t.Errorf("tools = %+v", list.Tools)
	}
}

func TestMarkAnswer(t *testing.T) {
	m := &stubMarker{}
	c := connect(t, m)

	res := callMark(t, c, map[string]any{"question": "3+3", "answer": "6", "totalMarks": 10})
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, res))
	}
	var resp marking.Response
	if err := json.Unmarshal([]byte(text(t, res)), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Score != 6 || resp.ModelUsed != "ollama/llama3" {
		t.Errorf("response = %+v", resp)
	}
	if m.lastReq.TotalMarks != 10 || m.lastTier != marking.TierPro {
		t.Errorf("forwarded req=%+v tier=%s", m.lastReq, m.lastTier)
	}
}

func TestMarkAnswer_InvalidRequest(t *testing.T) {
	c := connect(t, &stubMarker{})
	res := callMark(t, c, map[string]any{"question": "3+3"})
	if !res.IsError {
		t.Fatal("expected a tool error for a missing answer")
	}
}

func TestMarkAnswer_FailureIsGeneric(t *testing.T) {
	c := connect(t, &stubMarker{err: &marking.AllProvidersFailedError{Failures: []marking.ProviderFailure{
		{Provider: "openrouter", Attempts: 3, Err: errors.New("quota exceeded")},
	}}})
	res := callMark(t, c, map[string]any{"question": "q", "answer": "a"})
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
	if msg := text(t, res); strings.Contains(msg, "quota") {
		t.Errorf("diagnostics leaked: %q", msg)
	}
}
