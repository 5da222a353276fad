package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/llm"
	"github.com/jkaninda/alama/internal/llm/anthropic"
	"github.com/jkaninda/alama/internal/llm/gemini"
	"github.com/jkaninda/alama/internal/llm/openai"
	"github.com/jkaninda/alama/internal/secrets"
)

// ErrMissingCredential is returned when a provider's API key cannot be
// resolved.
var ErrMissingCredential = errors.New("missing provider credential")

// attributionTitle is sent to OpenRouter so usage is grouped by app.
const attributionTitle = "alama"

// FromConfig builds the adapter for one configured provider. A provider
// configured with several models gets a model chain tried in order within a
// single call.
func FromConfig(ctx context.Context, pc config.ProviderConfig, sp secrets.Provider, hc *http.Client, logger *slog.Logger) (Adapter, error) {
	apiKey, ok := secrets.ConfigValue(ctx, sp, pc.APIKeyRef())
	if !ok && pc.Type != config.ProviderOllama {
		return nil, fmt.Errorf("%w: %s (set %s)", ErrMissingCredential, pc.Name, pc.APIKeyRef())
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	models := pc.ModelList()
	if len(models) == 0 {
		return nil, fmt.Errorf("provider %s has no model configured", pc.Name)
	}
	clients := make([]llm.Client, 0, len(models))
	for _, model := range models {
		c, err := newClient(pc, apiKey, model, hc, logger)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	var client llm.Client = clients[0]
	if len(clients) > 1 {
		chain, err := llm.NewModelChain(pc.Name, clients, logger)
		if err != nil {
			return nil, err
		}
		client = chain
	}

	return NewLLMAdapter(pc.Name, client,
		WithMaxTokens(pc.MaxTokens),
		WithTemperature(pc.Temperature),
	), nil
}

func newClient(pc config.ProviderConfig, apiKey, model string, hc *http.Client, logger *slog.Logger) (llm.Client, error) {
	switch pc.Type {
	case config.ProviderOpenRouter:
		return openai.NewClient(apiKey, model, logger,
			openai.WithBaseURL(orDefault(pc.BaseURL, openai.OpenRouterBaseURL)),
			openai.WithName(pc.Name),
			openai.WithHeader("X-Title", attributionTitle),
			openai.WithHTTPClient(hc),
		), nil
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithName(pc.Name), openai.WithHTTPClient(hc)}
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		return openai.NewClient(apiKey, model, logger, opts...), nil
	case config.ProviderOllama:
		return openai.NewClient(apiKey, model, logger,
			openai.WithBaseURL(orDefault(pc.BaseURL, openai.OllamaBaseURL)),
			openai.WithName(pc.Name),
			openai.WithHTTPClient(hc),
		), nil
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithHTTPClient(hc)}
		if pc.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(pc.BaseURL))
		}
		return anthropic.NewClient(apiKey, model, logger, opts...), nil
	case config.ProviderGemini:
		opts := []gemini.Option{gemini.WithHTTPClient(hc)}
		if pc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
		}
		return gemini.NewClient(apiKey, model, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
