package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jkaninda/alama/internal/config"
	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/observability"
	"github.com/jkaninda/alama/internal/prompt"
	"github.com/jkaninda/alama/internal/ratelimit"
	"github.com/jkaninda/alama/internal/router"
)

type fakeMarker struct {
	mu        sync.Mutex
	err       error
	calls     int
	lastTier  marking.Tier
	lastPref  string
	lastReq   *marking.Request
	providers []router.ProviderConfig
}

func (f *fakeMarker) Mark(_ context.Context, req *marking.Request, tier marking.Tier, preferred string) (*router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastTier, f.lastPref, f.lastReq = tier, preferred, req
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &router.Result{
		Response: &marking.Response{
			Score:                  80,
			Grade:                  "7",
			AOsMet:                 []string{"AO1"},
			ImprovementSuggestions: []string{"Show working"},
			DetailedFeedback:       "Good.",
			ModelUsed:              "openrouter/gpt-4o",
		},
		Provider:    "openrouter",
		Strategy:    prompt.Primary,
		Attempts:    1,
		Fingerprint: marking.Fingerprint(req),
	}, nil
}

func (f *fakeMarker) Providers() []router.ProviderConfig { return f.providers }

type fakeInvalidator struct{ dropped []string }

func (f *fakeInvalidator) Invalidate(_ context.Context, fp string) { f.dropped = append(f.dropped, fp) }

func newTestServer(t *testing.T, cfg Config, m Marker, rl *ratelimit.Limiter) *httptest.Server {
	t.Helper()
	if cfg.APIKeys == nil {
		cfg.APIKeys = map[string]string{"free-key": "alice", "pro-key": "bob"}
		cfg.ProUsers = []string{"bob"}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGateway(cfg, m, rl, logger).WithCache(&fakeInvalidator{})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/mark", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const validBody = `{"question":"2+2","answer":"4","subject":"Mathematics"}`

func TestMark_Success(t *testing.T) {
	m := &fakeMarker{}
	srv := newTestServer(t, Config{}, m, nil)

	resp := post(t, srv, "free-key", validBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out MarkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Score != 80 || out.Grade != "7" || out.ModelUsed != "openrouter/gpt-4o" {
		t.Errorf("unexpected body: %+v", out)
	}
	if out.RequestID == "" || out.Fingerprint == "" {
		t.Errorf("expected request id and fingerprint, got %+v", out)
	}
	if m.lastTier != marking.TierFree {
		t.Errorf("tier = %s, want FREE", m.lastTier)
	}
	if m.lastReq.Subject != "Mathematics" {
		t.Errorf("subject not forwarded: %+v", m.lastReq)
	}
}

func TestMark_ProUserAndPreferredProvider(t *testing.T) {
	m := &fakeMarker{}
	srv := newTestServer(t, Config{}, m, nil)

	resp := post(t, srv, "pro-key", `{"question":"q","answer":"a","preferredProvider":"anthropic"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if m.lastTier != marking.TierPro || m.lastPref != "anthropic" {
		t.Errorf("tier=%s preferred=%q", m.lastTier, m.lastPref)
	}
}

func TestMark_Unauthorized(t *testing.T) {
	m := &fakeMarker{}
	srv := newTestServer(t, Config{}, m, nil)

	for _, key := range []string{"", "wrong"} {
		if resp := post(t, srv, key, validBody); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, resp.StatusCode)
		}
	}
	if m.calls != 0 {
		t.Errorf("router called %d times for unauthenticated requests", m.calls)
	}
}

func TestMark_InvalidRequest(t *testing.T) {
	srv := newTestServer(t, Config{}, &fakeMarker{}, nil)

	resp := post(t, srv, "free-key", `{"question":"   ","answer":"4"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if resp := post(t, srv, "free-key", `{not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want 400", resp.StatusCode)
	}
}

func TestMark_AllProvidersFailedHidesDiagnostics(t *testing.T) {
	m := &fakeMarker{err: &marking.AllProvidersFailedError{Failures: []marking.ProviderFailure{
		{Provider: "openrouter", Attempts: 3, Err: errors.New("upstream said sk-secret-123")},
	}}}
	srv := newTestServer(t, Config{}, m, nil)

	resp := post(t, srv, "free-key", validBody)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if bytes.Contains(body, []byte("sk-secret")) || bytes.Contains(body, []byte("openrouter")) {
		t.Errorf("provider diagnostics leaked: %s", body)
	}
}

func TestMark_RateLimited(t *testing.T) {
	rl := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	srv := newTestServer(t, Config{}, &fakeMarker{}, rl)

	if resp := post(t, srv, "free-key", validBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d", resp.StatusCode)
	}
	if resp := post(t, srv, "free-key", validBody); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", resp.StatusCode)
	}
	if resp := post(t, srv, "pro-key", validBody); resp.StatusCode != http.StatusOK {
		t.Errorf("other user should not be limited, got %d", resp.StatusCode)
	}
}

func TestMark_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, Config{MaxRequestSize: 64}, &fakeMarker{}, nil)

	body := fmt.Sprintf(`{"question":"q","answer":%q}`, strings.Repeat("x", 512))
	if resp := post(t, srv, "free-key", body); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProviders_FilteredByTier(t *testing.T) {
	m := &fakeMarker{providers: []router.ProviderConfig{
		{Name: "openrouter", Tier: marking.TierFree, Available: true},
		{Name: "anthropic", Tier: marking.TierPro, Available: true},
	}}
	srv := newTestServer(t, Config{}, m, nil)

	list := func(key string) []ProviderResponse {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/providers", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out []ProviderResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if got := list("free-key"); len(got) != 1 || got[0].Name != "openrouter" {
		t.Errorf("free user sees %+v", got)
	}
	if got := list("pro-key"); len(got) != 2 {
		t.Errorf("pro user sees %+v", got)
	}
}

func TestProviders_RecentErrorRate(t *testing.T) {
	anomaly := observability.NewAnomalyDetector(&config.AnomalyConfig{Enabled: true}, nil)
	anomaly.RecordError("provider:openrouter")
	for range 3 {
		anomaly.RecordSuccess("provider:openrouter")
	}
	m := &fakeMarker{providers: []router.ProviderConfig{
		{Name: "openrouter", Tier: marking.TierFree, Available: true},
		{Name: "ollama", Tier: marking.TierFree, Available: true},
	}}
	srv := newTestServer(t, Config{Anomaly: anomaly}, m, nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/providers", nil)
	req.Header.Set("Authorization", "Bearer free-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out []ProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected two providers, got %+v", out)
	}
	if r := out[0].RecentErrorRate; r == nil || *r != 0.25 || out[0].RecentCalls != 4 {
		t.Errorf("openrouter = %+v, want 25%% over 4 calls", out[0])
	}
	if out[1].RecentErrorRate != nil {
		t.Errorf("ollama was never called, got rate %v", *out[1].RecentErrorRate)
	}
}

func TestInvalidateCache(t *testing.T) {
	inv := &fakeInvalidator{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGateway(Config{APIKeys: map[string]string{"k": "alice"}}, &fakeMarker{}, nil, logger).WithCache(inv)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/mark/cache/abc123", nil)
	req.Header.Set("Authorization", "Bearer k")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(inv.dropped) != 1 || inv.dropped[0] != "abc123" {
		t.Errorf("dropped = %v", inv.dropped)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*observability.HealthChecker)
		wantCode int
	}{
		{
			name: "cache store down degrades",
			setup: func(hc *observability.HealthChecker) {
				hc.AddOptionalCheck("cache_store", func(context.Context) error { return errors.New("down") })
				hc.AddCheck("providers", func(context.Context) error { return nil })
			},
			wantCode: http.StatusOK,
		},
		{
			name: "no providers is unavailable",
			setup: func(hc *observability.HealthChecker) {
				hc.AddCheck("providers", func(context.Context) error { return errors.New("no provider has credentials") })
			},
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := observability.NewHealthChecker(nil)
			tt.setup(hc)
			srv := newTestServer(t, Config{HealthChecker: hc}, &fakeMarker{}, nil)

			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("healthz = %d, want 200", resp.StatusCode)
			}

			resp, err = http.Get(srv.URL + "/readyz")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("readyz = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	srv := newTestServer(t, Config{Metrics: metrics, MetricsRegistry: metrics.Registry}, &fakeMarker{}, nil)

	post(t, srv, "free-key", validBody)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`alama_http_requests_total{method="POST",path="/v1/mark",status_code="200"} 1`)) {
		t.Errorf("metrics output missing http request sample:\n%s", body)
	}
}
