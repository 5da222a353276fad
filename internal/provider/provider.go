// Package provider wraps model clients behind the Adapter interface the
// router drives. Adapters build the prompt, make exactly one call and return
// the raw completion; retries and validation belong to the router.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/jkaninda/alama/internal/llm"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/prompt"
)

// Output is the raw completion returned by an adapter.
type Output struct {
	Text  string
	Model string // model that produced Text, when known
	// Truncated reports that the model hit its token limit, which usually
	// explains a response that later fails validation.
	Truncated bool
}

// ModelUsed identifies the provider and model for the response.
func (o *Output) ModelUsed(provider string) string {
	if o.Model == "" || o.Model == provider {
		return provider
	}
	return provider + "/" + o.Model
}

// Adapter is the uniform call boundary for a marking provider.
type Adapter interface {
	Name() string
	// Mark returns raw model text or a *marking.ProviderError.
	Mark(ctx context.Context, req *marking.Request, strategy prompt.Strategy) (*Output, error)
}

// LLMAdapter adapts an llm.Client.
type LLMAdapter struct {
	name        string
	client      llm.Client
	maxTokens   int
	temperature *float64
}

var _ Adapter = (*LLMAdapter)(nil)

// Option configures an LLMAdapter.
type Option func(*LLMAdapter)

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(a *LLMAdapter) { a.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t *float64) Option {
	return func(a *LLMAdapter) { a.temperature = t }
}

// NewLLMAdapter creates an adapter named name over client.
func NewLLMAdapter(name string, client llm.Client, opts ...Option) *LLMAdapter {
	a := &LLMAdapter{name: name, client: client}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLMAdapter) Name() string { return a.name }

// Mark sends the prompt for req framed by strategy. Strategies validated
// strictly ask the model for a bare JSON object.
func (a *LLMAdapter) Mark(ctx context.Context, req *marking.Request, strategy prompt.Strategy) (*Output, error) {
	p := prompt.Build(req, strategy)
	comp, err := a.client.Complete(ctx, &llm.Prompt{
		System:      p.System,
		User:        p.User,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		JSON:        strategy.Mode() == marking.ModeStrict,
	})
	if err != nil {
		pe := &marking.ProviderError{Provider: a.name, Err: err}
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
		}
		return nil, pe
	}

	text := strings.TrimSpace(comp.Text)
	if text == "" {
		return nil, &marking.ProviderError{Provider: a.name, Err: marking.ErrEmptyResponse}
	}
	return &Output{Text: text, Model: comp.Model, Truncated: comp.Truncated}, nil
}
