package marking

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidRequest is returned when a request is missing required fields.
var ErrInvalidRequest = errors.New("invalid marking request")

// ErrEmptyResponse is wrapped by a ProviderError when a provider answered
// with no text.
var ErrEmptyResponse = errors.New("empty response body")

// excerptLimit bounds the raw text carried by a ValidationError.
const excerptLimit = 200

// TimeoutError reports an attempt that exceeded its per-call deadline.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}

// ProviderError reports a failed provider call: a network error, a non-2xx
// status or an empty body.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationMode selects how raw provider output is parsed.
type ValidationMode string

const (
	// ModeStrict rejects anything that does not decode and pass every check.
	ModeStrict ValidationMode = "strict"
	// ModeLenient repairs salvageable output with pattern extraction and
	// placeholders.
	ModeLenient ValidationMode = "lenient"
)

// ValidationError reports provider output that could not be turned into a
// Response.
type ValidationError struct {
	Mode    ValidationMode
	Field   string // empty for syntax errors
	Reason  string
	Excerpt string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s validation failed", e.Mode)
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Excerpt != "" {
		fmt.Fprintf(&b, " (raw: %q)", e.Excerpt)
	}
	return b.String()
}

// NewValidationError builds a ValidationError with a truncated excerpt of raw.
func NewValidationError(mode ValidationMode, field, reason, raw string) *ValidationError {
	return &ValidationError{Mode: mode, Field: field, Reason: reason, Excerpt: Excerpt(raw)}
}

// Excerpt truncates s to a bounded number of runes for logs and errors.
func Excerpt(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	r := []rune(s)
	return string(r[:excerptLimit]) + "..."
}

// ProviderFailure is the last error recorded for one candidate provider.
type ProviderFailure struct {
	Provider string
	Attempts int
	Err      error
}

// AllProvidersFailedError is the only failure the router returns once a
// request has been accepted. It carries diagnostics for logs; gateways must
// not show its text to end users.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
	// Cause is set when the run was cut short by the caller's context.
	Cause error
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Failures) == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("all providers failed: %v", e.Cause)
		}
		return "all providers failed: no eligible provider"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%d attempts): %v", f.Provider, f.Attempts, f.Err))
	}
	msg := fmt.Sprintf("all %d providers failed: %s", len(e.Failures), strings.Join(parts, "; "))
	if e.Cause != nil {
		msg += fmt.Sprintf(" [%v]", e.Cause)
	}
	return msg
}

// Unwrap exposes the context error, if any, so callers can test for
// context.Canceled with errors.Is.
func (e *AllProvidersFailedError) Unwrap() error { return e.Cause }

// Retryable reports whether err may succeed on another attempt against the
// same provider.
func Retryable(err error) bool {
	var (
		te *TimeoutError
		pe *ProviderError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &te), errors.As(err, &pe):
		return true
	case errors.As(err, &ve):
		return ve.Mode == ModeStrict
	default:
		return false
	}
}
