// Package validation turns raw model output into a marking.Response.
//
// Parsing happens in two independent phases. Strict parsing decodes a JSON
// object and checks every field against the response schema; any failure
// rejects the output. Lenient parsing is used for fallback prompt strategies:
// it recovers the score and grade with pattern matching and fills missing
// text fields with placeholders, recording which fields were synthesised.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jkaninda/alama/internal/marking"
)

const (
	MinFeedbackLength   = 50
	MinSuggestionLength = 10
	MaxSuggestions      = 5

	// scoreTolerance is how far outside [0, max] a strict score may land
	// before it is rejected instead of clamped.
	scoreTolerance = 1

	// maxConfidence bounds the advisory confidence; models report it on
	// either a 0-1 or a 1-10 scale.
	maxConfidence = 10
)

// Validator parses provider output. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator with the marking schema rules registered.
func New() *Validator {
	v := validator.New()

	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
		return marking.IsValidGrade(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{validate: v}
}

// Parse dispatches to Strict or Lenient by mode.
func (v *Validator) Parse(raw, modelUsed string, maxScore int, mode marking.ValidationMode) (*marking.Response, error) {
	if mode == marking.ModeLenient {
		return v.Lenient(raw, modelUsed, maxScore)
	}
	return v.Strict(raw, modelUsed, maxScore)
}

// payload is the schema a strict response must satisfy. Alias fields are
// folded into the canonical ones before validation.
type payload struct {
	Score                   *float64 `json:"score" validate:"required"`
	Grade                   string   `json:"grade" validate:"omitempty,grade"`
	AOsMet                  []string `json:"aosMet" validate:"required,min=1,dive,notblank"`
	AssessmentObjectivesMet []string `json:"assessmentObjectivesMet" validate:"-"`
	ImprovementSuggestions  []string `json:"improvementSuggestions" validate:"required,min=1,max=5,dive,min=10"`
	DetailedFeedback        string   `json:"detailedFeedback" validate:"required,min=50"`
	Feedback                string   `json:"feedback" validate:"-"`
	AIResponse              string   `json:"aiResponse" validate:"-"`
	ConfidenceScore         *float64 `json:"confidenceScore" validate:"-"`
}

func (p *payload) normalize() {
	if len(p.AOsMet) == 0 {
		p.AOsMet = p.AssessmentObjectivesMet
	}
	if strings.TrimSpace(p.DetailedFeedback) == "" {
		p.DetailedFeedback = firstNonBlank(p.AIResponse, p.Feedback)
	}
	p.DetailedFeedback = strings.TrimSpace(p.DetailedFeedback)
	p.Grade = strings.ToUpper(strings.TrimSpace(p.Grade))
	p.AOsMet = trimAll(p.AOsMet)
	p.ImprovementSuggestions = trimAll(p.ImprovementSuggestions)
}

// Strict decodes raw as a JSON object and enforces the full schema.
func (v *Validator) Strict(raw, modelUsed string, maxScore int) (*marking.Response, error) {
	maxScore = effectiveMax(maxScore)

	data, err := extractObject(raw)
	if err != nil {
		return nil, marking.NewValidationError(marking.ModeStrict, "", err.Error(), raw)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			reason := fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
			return nil, marking.NewValidationError(marking.ModeStrict, typeErr.Field, reason, raw)
		}
		return nil, marking.NewValidationError(marking.ModeStrict, "", "invalid JSON: "+err.Error(), raw)
	}
	p.normalize()

	if err := v.validate.Struct(&p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, marking.NewValidationError(marking.ModeStrict, fe.Field(), describe(fe), raw)
		}
		return nil, marking.NewValidationError(marking.ModeStrict, "", err.Error(), raw)
	}

	rounded := math.Round(*p.Score)
	if rounded < -scoreTolerance || rounded > float64(maxScore+scoreTolerance) {
		reason := fmt.Sprintf("value %s outside [0, %d]", strconv.FormatFloat(*p.Score, 'g', -1, 64), maxScore)
		return nil, marking.NewValidationError(marking.ModeStrict, "score", reason, raw)
	}
	score := marking.ClampScore(int(rounded), maxScore)

	grade := p.Grade
	if grade == "" {
		grade = marking.GradeForScore(score, maxScore)
	}

	return &marking.Response{
		Score:                  score,
		Grade:                  grade,
		AOsMet:                 p.AOsMet,
		ImprovementSuggestions: p.ImprovementSuggestions,
		DetailedFeedback:       p.DetailedFeedback,
		ModelUsed:              modelUsed,
		ConfidenceScore:        boundedConfidence(p.ConfidenceScore),
	}, nil
}

// describe renders a validator failure as a short diagnostic.
func describe(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isList {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "grade":
		return fmt.Sprintf("%q is not a grade (expected 9-1 or U)", fe.Value())
	case "notblank":
		return "must not be blank"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// extractObject returns the JSON object in raw. Models often wrap JSON in
// markdown fences or surround it with prose, so the outermost braces are
// used when raw is not valid JSON on its own.
func extractObject(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("empty output")
	}
	s = stripFences(s)
	if json.Valid([]byte(s)) {
		return []byte(s), nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in output")
	}
	candidate := []byte(s[start : end+1])
	if !json.Valid(candidate) {
		var obj map[string]any
		err := json.Unmarshal(candidate, &obj)
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return candidate, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func boundedConfidence(c *float64) *float64 {
	if c == nil || math.IsNaN(*c) || *c < 0 || *c > maxConfidence {
		return nil
	}
	v := *c
	return &v
}

func effectiveMax(maxScore int) int {
	if maxScore <= 0 {
		return marking.DefaultMaxScore
	}
	return maxScore
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
