package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/llm"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/prompt"
	"github.com/jkaninda/alama/internal/secrets"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClient struct {
	comp       *llm.Completion
	err        error
	lastPrompt *llm.Prompt
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Complete(_ context.Context, p *llm.Prompt) (*llm.Completion, error) {
	s.lastPrompt = p
	return s.comp, s.err
}

func sampleRequest() *marking.Request {
	return &marking.Request{
		Question:   "Explain photosynthesis.",
		Answer:     "Plants convert light into chemical energy.",
		TotalMarks: 10,
	}
}

func TestLLMAdapter_Mark(t *testing.T) {
	client := &stubClient{comp: &llm.Completion{Text: "  {\"score\": 7}\n", Model: "m1", Truncated: true}}
	a := NewLLMAdapter("primary", client, WithMaxTokens(512))

	out, err := a.Mark(context.Background(), sampleRequest(), prompt.Primary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != `{"score": 7}` {
		t.Errorf("expected trimmed text, got %q", out.Text)
	}
	if got := out.ModelUsed(a.Name()); got != "primary/m1" {
		t.Errorf("expected primary/m1, got %q", got)
	}
	if !out.Truncated {
		t.Error("expected truncation to be carried through")
	}
	p := client.lastPrompt
	if p.MaxTokens != 512 {
		t.Errorf("expected max tokens 512, got %d", p.MaxTokens)
	}
	if p.System == "" {
		t.Error("expected a system prompt")
	}
	if !strings.Contains(p.User, "Explain photosynthesis.") {
		t.Error("expected the question in the user prompt")
	}
	if !p.JSON {
		t.Error("expected JSON mode for the primary strategy")
	}
}

func TestLLMAdapter_LenientStrategySkipsJSONMode(t *testing.T) {
	client := &stubClient{comp: &llm.Completion{Text: "Score: 6"}}
	a := NewLLMAdapter("primary", client)

	if _, err := a.Mark(context.Background(), sampleRequest(), prompt.ConstrainedText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.lastPrompt.JSON {
		t.Error("expected plain text mode for constrained_text")
	}
}

func TestLLMAdapter_MapsAPIError(t *testing.T) {
	client := &stubClient{err: &llm.APIError{Provider: "stub", StatusCode: 429, Body: "slow down"}}
	a := NewLLMAdapter("primary", client)

	_, err := a.Mark(context.Background(), sampleRequest(), prompt.Primary)
	var pe *marking.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != "primary" || pe.StatusCode != 429 {
		t.Errorf("unexpected provider error: %+v", pe)
	}
	if !marking.Retryable(err) {
		t.Error("provider errors should be retryable")
	}
}

func TestLLMAdapter_EmptyContent(t *testing.T) {
	a := NewLLMAdapter("primary", &stubClient{comp: &llm.Completion{Text: "   "}})
	_, err := a.Mark(context.Background(), sampleRequest(), prompt.Primary)
	if !errors.Is(err, marking.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOutput_ModelUsed(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"", "p"},
		{"p", "p"},
		{"gpt-4o", "p/gpt-4o"},
	}
	for _, tt := range tests {
		if got := (&Output{Model: tt.model}).ModelUsed("p"); got != tt.want {
			t.Errorf("ModelUsed(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestFromConfig_OpenAICompatible(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		models = append(models, body.Model)
		if body.Model == "first" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"second","choices":[{"message":{"role":"assistant","content":"Score: 5"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	t.Setenv("ALAMA_TEST_OPENAI", "k")
	pc := config.ProviderConfig{
		Name:    "chain",
		Type:    config.ProviderOpenAI,
		APIKey:  "env://ALAMA_TEST_OPENAI",
		BaseURL: srv.URL,
		Models:  []string{"first", "second"},
	}
	a, err := FromConfig(context.Background(), pc, secrets.Default(), srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "chain" {
		t.Errorf("expected adapter name chain, got %q", a.Name())
	}

	out, err := a.Mark(context.Background(), sampleRequest(), prompt.ConstrainedText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Score: 5" || out.Model != "second" {
		t.Errorf("unexpected output %+v", out)
	}
	if len(models) != 2 || models[0] != "first" || models[1] != "second" {
		t.Errorf("expected model chain first,second; got %v", models)
	}
}

func TestFromConfig_MissingCredential(t *testing.T) {
	pc := config.ProviderConfig{
		Name:   "anthropic",
		Type:   config.ProviderAnthropic,
		APIKey: "env://ALAMA_TEST_UNSET_KEY",
		Model:  "claude",
	}
	_, err := FromConfig(context.Background(), pc, secrets.Default(), nil, discardLogger())
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestFromConfig_OllamaNeedsNoKey(t *testing.T) {
	pc := config.ProviderConfig{Name: "local", Type: config.ProviderOllama, Model: "llama3"}
	if _, err := FromConfig(context.Background(), pc, secrets.Default(), nil, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFromConfig_UnsupportedType(t *testing.T) {
	pc := config.ProviderConfig{Name: "x", Type: "mystery", APIKey: "literal", Model: "m"}
	if _, err := FromConfig(context.Background(), pc, secrets.Default(), nil, discardLogger()); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
