package marking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestGradeForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "9"},
		{97, "9"},
		{96, "8"},
		{90, "8"},
		{80, "7"},
		{70, "6"},
		{60, "5"},
		{50, "4"},
		{40, "3"},
		{30, "2"},
		{20, "1"},
		{19, "U"},
		{0, "U"},
	}
	for _, tt := range tests {
		if got := GradeForScore(tt.score, 100); got != tt.want {
			t.Errorf("GradeForScore(%d, 100) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestGradeForScore_ScalesWithMaxScore(t *testing.T) {
	// 8/20 = 40%.
	if got := GradeForScore(8, 20); got != "3" {
		t.Errorf("expected grade 3 for 8/20, got %q", got)
	}
	// 7/20 = 35%.
	if got := GradeForScore(7, 20); got != "2" {
		t.Errorf("expected grade 2 for 7/20, got %q", got)
	}
	// Zero max falls back to 100.
	if got := GradeForScore(50, 0); got != "4" {
		t.Errorf("expected grade 4 for 50 with default max, got %q", got)
	}
}

func TestIsValidGrade(t *testing.T) {
	for _, g := range []string{"1", "5", "9", "U"} {
		if !IsValidGrade(g) {
			t.Errorf("expected %q to be valid", g)
		}
	}
	for _, g := range []string{"", "0", "10", "A*", "u"} {
		if IsValidGrade(g) {
			t.Errorf("expected %q to be invalid", g)
		}
	}
}

func TestClampScore_Idempotent(t *testing.T) {
	for _, maxScore := range []int{0, 1, 20, 100} {
		for score := -150; score <= 250; score += 7 {
			once := ClampScore(score, maxScore)
			twice := ClampScore(once, maxScore)
			if once != twice {
				t.Fatalf("ClampScore not idempotent for score=%d max=%d: %d != %d", score, maxScore, once, twice)
			}
			limit := maxScore
			if limit <= 0 {
				limit = DefaultMaxScore
			}
			if once < 0 || once > limit {
				t.Fatalf("ClampScore(%d, %d) = %d out of bounds", score, maxScore, once)
			}
		}
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := &Request{Question: "2+2", Answer: "4", Subject: "Mathematics", ExamBoard: "AQA", MarkScheme: "4"}
	b := &Request{MarkScheme: "4", ExamBoard: "AQA", Subject: "Mathematics", Answer: "4", Question: "2+2"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("expected equal fingerprints for field-wise equal requests")
	}
	if Fingerprint(a) != Fingerprint(a) {
		t.Fatal("expected repeated calls to agree")
	}
	if len(Fingerprint(a)) != 64 {
		t.Errorf("expected hex sha256, got %q", Fingerprint(a))
	}
}

func TestFingerprint_IgnoresSurroundingWhitespace(t *testing.T) {
	a := &Request{Question: "2+2", Answer: "4"}
	b := &Request{Question: "  2+2\n", Answer: "4 "}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected whitespace-trimmed fields to fingerprint identically")
	}
}

func TestFingerprint_DistinguishesFields(t *testing.T) {
	base := Request{Question: "2+2", Answer: "4", Subject: "Mathematics"}
	variants := []Request{
		{Question: "2+3", Answer: "4", Subject: "Mathematics"},
		{Question: "2+2", Answer: "5", Subject: "Mathematics"},
		{Question: "2+2", Answer: "4", Subject: "Physics"},
		{Question: "2+2", Answer: "4", Subject: "Mathematics", ExamBoard: "OCR"},
		{Question: "2+2", Answer: "4", Subject: "Mathematics", MarkScheme: "award 1"},
		{Question: "2+2", Answer: "4", Subject: "Mathematics", TotalMarks: 5},
		// Values moved between fields must not collide.
		{Question: "4", Answer: "2+2", Subject: "Mathematics"},
	}
	fp := Fingerprint(&base)
	for i := range variants {
		if Fingerprint(&variants[i]) == fp {
			t.Errorf("variant %d collided with base fingerprint", i)
		}
	}
	if !strings.HasPrefix(CacheKey(fp), "marking:") {
		t.Errorf("unexpected cache key %q", CacheKey(fp))
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
	}{
		{"valid", &Request{Question: "q", Answer: "a"}, false},
		{"nil", nil, true},
		{"missing question", &Request{Answer: "a"}, true},
		{"blank answer", &Request{Question: "q", Answer: "   "}, true},
		{"negative marks", &Request{Question: "q", Answer: "a", TotalMarks: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestParseTierAndCanUse(t *testing.T) {
	free, err := ParseTier(" free ")
	if err != nil || free != TierFree {
		t.Fatalf("ParseTier(free) = %q, %v", free, err)
	}
	if _, err := ParseTier("gold"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if !TierPro.CanUse(TierFree) || !TierPro.CanUse(TierPro) {
		t.Error("PRO callers should use every provider")
	}
	if TierFree.CanUse(TierPro) {
		t.Error("FREE callers must not use PRO providers")
	}
}

func TestResponseClone(t *testing.T) {
	c := 0.8
	r := &Response{Score: 5, AOsMet: []string{"AO1"}, ConfidenceScore: &c}
	cp := r.Clone()
	cp.AOsMet[0] = "changed"
	*cp.ConfidenceScore = 0.1
	if r.AOsMet[0] != "AO1" || *r.ConfidenceScore != 0.8 {
		t.Error("clone shares state with original")
	}
}

func TestProcessingErrorIsSynthetic(t *testing.T) {
	r := ProcessingError("none")
	if !r.Synthetic() {
		t.Error("expected processing error response to be marked synthetic")
	}
	if r.Grade != GradeUngraded {
		t.Errorf("expected grade U, got %q", r.Grade)
	}
}

func TestValidationErrorExcerpt(t *testing.T) {
	raw := strings.Repeat("x", 500)
	err := NewValidationError(ModeStrict, "score", "is required", raw)
	if len([]rune(err.Excerpt)) != excerptLimit+3 {
		t.Errorf("expected truncated excerpt, got %d runes", len([]rune(err.Excerpt)))
	}
	if !strings.Contains(err.Error(), `field "score"`) {
		t.Errorf("expected field in message, got %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&TimeoutError{Provider: "a", Timeout: time.Second}, true},
		{&ProviderError{Provider: "a", StatusCode: 500, Err: errors.New("boom")}, true},
		{fmt.Errorf("wrapped: %w", &ValidationError{Mode: ModeStrict}), true},
		{&ValidationError{Mode: ModeLenient}, false},
		{context.Canceled, false},
	}
	for i, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("case %d: Retryable(%v) = %v, want %v", i, tt.err, got, tt.want)
		}
	}
}

func TestAllProvidersFailedError(t *testing.T) {
	err := &AllProvidersFailedError{
		Failures: []ProviderFailure{
			{Provider: "a", Attempts: 3, Err: errors.New("timeout")},
			{Provider: "b", Attempts: 1, Err: errors.New("bad json")},
		},
		Cause: context.Canceled,
	}
	msg := err.Error()
	if !strings.Contains(msg, "a (3 attempts): timeout") || !strings.Contains(msg, "b (1 attempts): bad json") {
		t.Errorf("unexpected message %q", msg)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected errors.Is to reach the cause")
	}
	var target *AllProvidersFailedError
	if !errors.As(fmt.Errorf("mark: %w", err), &target) {
		t.Error("expected errors.As to find AllProvidersFailedError")
	}
}
