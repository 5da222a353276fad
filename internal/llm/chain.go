package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ModelChain tries several models of one provider in order and returns the
// first non-empty completion. It serves gateways such as OpenRouter where a
// list of free models sits behind one key; the router sees a single call.
type ModelChain struct {
	name   string
	models []Client
	logger *slog.Logger
}

var _ Client = (*ModelChain)(nil)

// NewModelChain returns a chain named name over models, tried in order.
func NewModelChain(name string, models []Client, logger *slog.Logger) (*ModelChain, error) {
	if len(models) == 0 {
		return nil, errors.New("model chain needs at least one model")
	}
	if name == "" {
		name = models[0].Name()
	}
	return &ModelChain{name: name, models: models, logger: logger}, nil
}

func (m *ModelChain) Name() string { return m.name }

// Complete stops at the first model that answers with text. The returned
// error wraps the last model's failure so callers still see its APIError.
func (m *ModelChain) Complete(ctx context.Context, p *Prompt) (*Completion, error) {
	var lastErr error
	for i, model := range m.models {
		c, err := model.Complete(ctx, p)
		if err == nil && c != nil && strings.TrimSpace(c.Text) != "" {
			if i > 0 {
				m.logger.InfoContext(ctx, "model chain recovered",
					slog.String("provider", m.name),
					slog.String("model", c.Model),
					slog.Int("position", i+1),
				)
			}
			return c, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		m.logger.WarnContext(ctx, "model failed, trying next in chain",
			slog.String("provider", m.name),
			slog.Int("position", i+1),
			slog.Int("remaining", len(m.models)-i-1),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("%s: every model in the chain failed: %w", m.name, lastErr)
}
