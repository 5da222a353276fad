// Package anthropic talks to the Anthropic Messages API.
package anthropic

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/alama/internal/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	messagesPath   = "/v1/messages"
	apiVersion     = "2023-06-01"
)

// Client is an llm.Client for one Claude model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ llm.Client = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "anthropic" }

// Complete posts p to the Messages API. The API has no JSON mode, so a
// JSON prompt prefills the assistant turn with "{" and the brace is put
// back on the returned text.
func (c *Client) Complete(ctx context.Context, p *llm.Prompt) (*llm.Completion, error) {
	headers := map[string]string{
		"X-API-Key":         c.apiKey,
		"Anthropic-Version": apiVersion,
	}

	var out messagesResponse
	if err := llm.PostJSON(ctx, c.httpClient, c.Name(), c.baseURL+messagesPath, headers, c.messagesRequest(p), &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	if p.JSON {
		text.WriteString(jsonPrefill)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	comp := &llm.Completion{
		Text:         text.String(),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Truncated:    out.StopReason == "max_tokens",
	}
	if comp.Model == "" {
		comp.Model = c.model
	}
	if comp.Text == jsonPrefill {
		comp.Text = ""
	}

	c.logger.DebugContext(ctx, "completion received",
		slog.String("provider", c.Name()),
		slog.String("model", comp.Model),
		slog.Int("input_tokens", comp.InputTokens),
		slog.Int("output_tokens", comp.OutputTokens),
		slog.Bool("truncated", comp.Truncated),
	)
	return comp, nil
}

const jsonPrefill = "{"

func (c *Client) messagesRequest(p *llm.Prompt) messagesRequest {
	req := messagesRequest{
		Model:       c.model,
		System:      p.System,
		Messages:    []message{{Role: "user", Content: p.User}},
		MaxTokens:   p.TokenLimit(),
		Temperature: p.Temperature,
	}
	if p.JSON {
		req.Messages = append(req.Messages, message{Role: "assistant", Content: jsonPrefill})
	}
	return req
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
