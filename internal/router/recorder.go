package router

import (
	"context"
	"errors"
	"time"

	"github.com/jkaninda/alama/internal/marking"
	"github.com/jkaninda/alama/internal/prompt"
)

// Outcome is the terminal state of one attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeProviderError   Outcome = "provider_error"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeCanceled        Outcome = "canceled"
)

// Fallback kinds.
const (
	FallbackStrategy = "strategy"
	FallbackProvider = "provider"
)

// Recorder observes routing events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordAttempt(ctx context.Context, provider string, strategy prompt.Strategy, outcome Outcome, elapsed time.Duration)
	RecordCacheLookup(hit bool)
	RecordFallback(kind string)
	RecordTerminalFailure()
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, string, prompt.Strategy, Outcome, time.Duration) {}
func (nopRecorder) RecordCacheLookup(bool)                                                        {}
func (nopRecorder) RecordFallback(string)                                                         {}
func (nopRecorder) RecordTerminalFailure()                                                        {}

func classify(err error) Outcome {
	var (
		te *marking.TimeoutError
		ve *marking.ValidationError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &te):
		return OutcomeTimeout
	case errors.As(err, &ve):
		return OutcomeValidationError
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeProviderError
	}
}
