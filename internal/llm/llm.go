// Package llm is the thin completion layer under the marking adapters: one
// system prompt and one user prompt in, one block of text out. The HTTP
// plumbing shared by the vendor clients lives here too.
package llm

import "context"

// DefaultMaxTokens bounds a completion when the prompt sets no limit. A
// marking reply with feedback and suggestions fits comfortably.
const DefaultMaxTokens = 2048

// Client completes a single-turn prompt against one model.
type Client interface {
	Complete(ctx context.Context, p *Prompt) (*Completion, error)
	Name() string
}

// Prompt is a single-turn request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64 // nil leaves the vendor default
	// JSON asks for a bare JSON object. Clients use the vendor's native
	// JSON mode where one exists.
	JSON bool
}

// TokenLimit returns MaxTokens, or DefaultMaxTokens when unset.
func (p *Prompt) TokenLimit() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return DefaultMaxTokens
}

// Completion is the model's reply.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	// Truncated is set when the model stopped at the token limit.
	Truncated bool
}
