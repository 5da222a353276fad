// Package gemini talks to the Gemini generateContent API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/alama/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client is an llm.Client for one Gemini model.
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

func (c *Client) Name() string { return "gemini" }

// Complete posts p to generateContent. JSON prompts set responseMimeType.
// A prompt blocked by safety filters comes back as an error rather than
// as empty text.
func (c *Client) Complete(ctx context.Context, p *llm.Prompt) (*llm.Completion, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	headers := map[string]string{"X-Goog-Api-Key": c.apiKey}

	var out generateResponse
	if err := llm.PostJSON(ctx, c.httpClient, c.Name(), url, headers, c.generateRequest(p), &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 && out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked the prompt: %s", out.PromptFeedback.BlockReason)
	}

	comp := &llm.Completion{Model: c.model}
	if u := out.UsageMetadata; u != nil {
		comp.InputTokens = u.PromptTokenCount
		comp.OutputTokens = u.CandidatesTokenCount
	}
	if len(out.Candidates) > 0 {
		cand := out.Candidates[0]
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
		comp.Text = text.String()
		comp.Truncated = cand.FinishReason == "MAX_TOKENS"
	}

	c.logger.DebugContext(ctx, "completion received",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("input_tokens", comp.InputTokens),
		slog.Int("output_tokens", comp.OutputTokens),
		slog.Bool("truncated", comp.Truncated),
	)
	return comp, nil
}

func (c *Client) generateRequest(p *llm.Prompt) generateRequest {
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: p.User}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: p.TokenLimit(),
			Temperature:     p.Temperature,
		},
	}
	if p.JSON {
		req.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if p.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: p.System}}}
	}
	return req
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}
