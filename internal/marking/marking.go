// Package marking defines the request and response types of the marking
// pipeline, the grade ladder and the error taxonomy shared by the router,
// the response validator and the gateways.
package marking

import (
	"fmt"
	"strings"
)

// DefaultMaxScore is the score ceiling when a request carries no total marks.
const DefaultMaxScore = 100

// Tier identifies which providers a caller may use.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

// ParseTier accepts "free"/"pro" in any case.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierPro:
		return TierPro, nil
	default:
		return "", fmt.Errorf("unknown tier %q (expected FREE or PRO)", s)
	}
}

// CanUse reports whether a caller on tier t may use a provider published on
// the given tier. PRO callers may use any provider.
func (t Tier) CanUse(provider Tier) bool {
	if t == TierPro {
		return true
	}
	return provider == TierFree
}

// Request is an immutable grading request supplied by the caller.
type Request struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	MarkScheme string `json:"markScheme,omitempty"`
	TotalMarks int    `json:"totalMarks,omitempty"`
	Subject    string `json:"subject,omitempty"`
	ExamBoard  string `json:"examBoard,omitempty"`
}

// Validate checks the required fields. Whitespace-only values count as empty.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Answer) == "" {
		return fmt.Errorf("%w: answer is required", ErrInvalidRequest)
	}
	if r.TotalMarks < 0 {
		return fmt.Errorf("%w: totalMarks must not be negative", ErrInvalidRequest)
	}
	return nil
}

// MaxScore returns the score ceiling for this request.
func (r *Request) MaxScore() int {
	if r == nil || r.TotalMarks <= 0 {
		return DefaultMaxScore
	}
	return r.TotalMarks
}

// Response is a validated marking result. It is built by the response
// validator from raw provider text.
type Response struct {
	Score                  int      `json:"score"`
	Grade                  string   `json:"grade"`
	AOsMet                 []string `json:"aosMet"`
	ImprovementSuggestions []string `json:"improvementSuggestions"`
	DetailedFeedback       string   `json:"aiResponse"`
	ModelUsed              string   `json:"modelUsed"`
	ConfidenceScore        *float64 `json:"confidenceScore,omitempty"`

	// SyntheticFields lists the fields filled with placeholder text because
	// the model output did not contain them.
	SyntheticFields []string `json:"syntheticFields,omitempty"`
}

// Synthetic reports whether any field of r holds placeholder content.
func (r *Response) Synthetic() bool { return len(r.SyntheticFields) > 0 }

// Clone returns a deep copy so cached values are never shared with callers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.AOsMet = append([]string(nil), r.AOsMet...)
	c.ImprovementSuggestions = append([]string(nil), r.ImprovementSuggestions...)
	c.SyntheticFields = append([]string(nil), r.SyntheticFields...)
	if len(c.SyntheticFields) == 0 {
		c.SyntheticFields = nil
	}
	if r.ConfidenceScore != nil {
		v := *r.ConfidenceScore
		c.ConfidenceScore = &v
	}
	return &c
}

// ProcessingError builds the placeholder response shown to a user when
// marking could not be completed. The router never returns it; callers that
// persist submissions use it to record a failed attempt.
func ProcessingError(modelUsed string) *Response {
	return &Response{
		Score:                  0,
		Grade:                  GradeUngraded,
		AOsMet:                 []string{"Not assessed"},
		ImprovementSuggestions: []string{"Please resubmit your answer for marking later."},
		DetailedFeedback:       "We could not mark this answer because the marking service is temporarily unavailable. No score has been recorded.",
		ModelUsed:              modelUsed,
		SyntheticFields:        []string{"score", "grade", "aosMet", "improvementSuggestions", "aiResponse"},
	}
}
