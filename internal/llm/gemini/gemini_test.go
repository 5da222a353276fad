package gemini

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

	"github.com/jkaninda/alama/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComplete_JSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-Goog-Api-Key"))
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "You are an examiner." {
			t.Errorf("unexpected system instruction %+v", req.SystemInstruction)
		}
		if req.GenerationConfig.ResponseMIMEType != "application/json" {
			t.Errorf("expected JSON mime type, got %q", req.GenerationConfig.ResponseMIMEType)
		}
		if req.GenerationConfig.MaxOutputTokens != llm.DefaultMaxTokens {
			t.Errorf("expected default max tokens, got %d", req.GenerationConfig.MaxOutputTokens)
		}

		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"score\":"},{"text":" 8}"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":20,"candidatesTokenCount":6}}`)
	}))
	defer srv.Close()

	client := NewClient("test-key", "gemini-2.0-flash", discardLogger(), WithBaseURL(srv.URL))
	comp, err := client.Complete(context.Background(), &llm.Prompt{
		System: "You are an examiner.",
		User:   "Mark this.",
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Text != `{"score": 8}` {
		t.Errorf("expected parts joined, got %q", comp.Text)
	}
	if comp.InputTokens != 20 || comp.OutputTokens != 6 {
		t.Errorf("unexpected usage: %+v", comp)
	}
	if comp.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected model %q", comp.Model)
	}
}

func TestComplete_PlainTextTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.GenerationConfig.ResponseMIMEType != "" {
			t.Error("expected no mime type for plain prompts")
		}
		if req.SystemInstruction != nil {
			t.Error("expected no system instruction")
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Score: 4"}]},"finishReason":"MAX_TOKENS"}]}`)
	}))
	defer srv.Close()

	client := NewClient("k", "gemini-2.0-flash", discardLogger(), WithBaseURL(srv.URL))
	comp, err := client.Complete(context.Background(), &llm.Prompt{User: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Text != "Score: 4" || !comp.Truncated {
		t.Errorf("unexpected completion %+v", comp)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	client := NewClient("k", "gemini-2.0-flash", discardLogger(), WithBaseURL(srv.URL))
	comp, err := client.Complete(context.Background(), &llm.Prompt{User: "Hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Text != "" {
		t.Errorf("expected empty text, got %q", comp.Text)
	}
}

func TestComplete_BlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	client := NewClient("k", "gemini-2.0-flash", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.Complete(context.Background(), &llm.Prompt{User: "Hi"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected a blocked prompt error, got %v", err)
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"status":"UNAVAILABLE"}}`)
	}))
	defer srv.Close()

	client := NewClient("k", "gemini-2.0-flash", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.Complete(context.Background(), &llm.Prompt{User: "Hi"})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected a 503 APIError, got %v", err)
	}
}
