// Package openai talks to Chat Completions endpoints. OpenRouter and Ollama
// serve the same wire format, so this client backs those provider kinds too.
package openai

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/jkaninda/alama/internal/llm"
)

const (
	defaultBaseURL  = "https://api.openai.com"
	completionsPath = "/v1/chat/completions"

	// OpenRouterBaseURL is the OpenRouter API root; its completions path
	// lives under /api.
	OpenRouterBaseURL = "https://openrouter.ai/api"
	// OllamaBaseURL is the default local Ollama endpoint.
	OllamaBaseURL = "http://localhost:11434"
)

// Client is an llm.Client for one Chat Completions model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	headers    map[string]string
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

// WithName sets the name used in errors and logs (e.g. "openrouter").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHeader adds a static request header, such as OpenRouter's X-Title
// attribution header.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient returns a client for model. An empty apiKey sends no
// Authorization header, which is what a local Ollama expects.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		headers:    make(map[string]string),
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Complete sends p as a system and a user message. JSON prompts set
// response_format to json_object.
func (c *Client) Complete(ctx context.Context, p *llm.Prompt) (*llm.Completion, error) {
	headers := maps.Clone(c.headers)
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var out chatResponse
	if err := llm.PostJSON(ctx, c.httpClient, c.name, c.baseURL+completionsPath, headers, c.chatRequest(p), &out); err != nil {
		return nil, err
	}

	comp := &llm.Completion{
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if comp.Model == "" {
		comp.Model = c.model
	}
	if len(out.Choices) > 0 {
		comp.Text = out.Choices[0].Message.Content
		comp.Truncated = out.Choices[0].FinishReason == "length"
	}

	c.logger.DebugContext(ctx, "completion received",
		slog.String("provider", c.name),
		slog.String("model", comp.Model),
		slog.Int("input_tokens", comp.InputTokens),
		slog.Int("output_tokens", comp.OutputTokens),
		slog.Bool("truncated", comp.Truncated),
	)
	return comp, nil
}

func (c *Client) chatRequest(p *llm.Prompt) chatRequest {
	req := chatRequest{
		Model:       c.model,
		MaxTokens:   p.TokenLimit(),
		Temperature: p.Temperature,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})
	if p.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
