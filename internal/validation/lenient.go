package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jkaninda/alama/internal/marking"
)

// Placeholders used when lenient parsing cannot find a field. They satisfy
// the same length rules as genuine output.
const (
	placeholderAO       = "Assessment objectives were not identified in the model output."
	placeholderFeedback = "Detailed feedback was not available for this answer. The score and grade were recovered from a partial model response."
)

var placeholderSuggestions = []string{
	"Compare your answer with the mark scheme and add any missing points.",
	"Support each point with a specific example or explanation.",
}

var (
	scorePattern      = regexp.MustCompile(`(?i)\bscore\b"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	marksPattern      = regexp.MustCompile(`(?i)\bmarks?(?:\s+awarded)?\b"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	outOfPattern      = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:/|out of)\s*(\d+)\b`)
	gradePattern      = regexp.MustCompile(`(?i)\bgrade\b"?\s*[:=]\s*"?([1-9]|U)\b`)
	feedbackPattern   = regexp.MustCompile(`(?is)\b(?:detailed\s*)?feedback\b"?\s*[:=]\s*(.+)`)
	confidencePattern = regexp.MustCompile(`(?i)\bconfidence(?:\s*score)?\b"?\s*[:=]\s*"?(\d+(?:\.\d+)?)`)
	aoPattern         = regexp.MustCompile(`\bAO[1-9]\b`)
	numberPrefix      = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)`)
)

// Lenient recovers a response from malformed output. The score must be
// recoverable; the grade then falls back to the ladder and missing text
// fields are replaced by placeholders listed in SyntheticFields.
func (v *Validator) Lenient(raw, modelUsed string, maxScore int) (*marking.Response, error) {
	maxScore = effectiveMax(maxScore)
	fields := decodeFields(raw)

	score, ok := lenientScore(fields, raw, maxScore)
	if !ok {
		return nil, marking.NewValidationError(marking.ModeLenient, "score", "no score found in output", raw)
	}
	resp := &marking.Response{
		Score:     marking.ClampScore(int(math.Round(score)), maxScore),
		ModelUsed: modelUsed,
	}

	resp.Grade = lenientGrade(fields, raw)
	if resp.Grade == "" {
		resp.Grade = marking.GradeForScore(resp.Score, maxScore)
	}

	resp.AOsMet = nonBlank(fields.list("aosMet", "assessmentObjectivesMet"))
	if len(resp.AOsMet) == 0 {
		resp.AOsMet = uniqueMatches(aoPattern, raw)
	}
	if len(resp.AOsMet) == 0 {
		resp.AOsMet = []string{placeholderAO}
		resp.SyntheticFields = append(resp.SyntheticFields, "aosMet")
	}

	for _, s := range nonBlank(fields.list("improvementSuggestions", "suggestions")) {
		if len([]rune(s)) >= MinSuggestionLength && len(resp.ImprovementSuggestions) < MaxSuggestions {
			resp.ImprovementSuggestions = append(resp.ImprovementSuggestions, s)
		}
	}
	if len(resp.ImprovementSuggestions) == 0 {
		resp.ImprovementSuggestions = append([]string(nil), placeholderSuggestions...)
		resp.SyntheticFields = append(resp.SyntheticFields, "improvementSuggestions")
	}

	feedback := strings.TrimSpace(fields.str("detailedFeedback", "feedback", "aiResponse"))
	if feedback == "" && fields == nil {
		if m := feedbackPattern.FindStringSubmatch(raw); m != nil {
			feedback = strings.TrimSpace(m[1])
		}
	}
	switch {
	case feedback == "":
		resp.DetailedFeedback = placeholderFeedback
		resp.SyntheticFields = append(resp.SyntheticFields, "aiResponse")
	case len([]rune(feedback)) < MinFeedbackLength:
		resp.DetailedFeedback = feedback + " " + placeholderFeedback
		resp.SyntheticFields = append(resp.SyntheticFields, "aiResponse")
	default:
		resp.DetailedFeedback = feedback
	}

	resp.ConfidenceScore = lenientConfidence(fields, raw)
	return resp, nil
}

// jsonFields is a loosely decoded JSON object with case-insensitive keys.
// A nil value means the output held no decodable object.
type jsonFields map[string]any

func decodeFields(raw string) jsonFields {
	data, err := extractObject(raw)
	if err != nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	out := make(jsonFields, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (f jsonFields) get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[strings.ToLower(k)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (f jsonFields) str(keys ...string) string {
	v, ok := f.get(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func (f jsonFields) number(keys ...string) (float64, bool) {
	v, ok := f.get(keys...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if m := numberPrefix.FindStringSubmatch(t); m != nil {
			n, err := strconv.ParseFloat(m[1], 64)
			return n, err == nil
		}
	}
	return 0, false
}

// list accepts an array of strings or a single delimited string.
func (f jsonFields) list(keys ...string) []string {
	v, ok := f.get(keys...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ';' || r == '\n' })
	default:
		return nil
	}
}

func lenientScore(fields jsonFields, raw string, maxScore int) (float64, bool) {
	if n, ok := fields.number("score", "marks", "mark"); ok {
		return n, true
	}
	// "Confidence score: 8" must not be read as the mark.
	text := confidencePattern.ReplaceAllString(raw, "")
	for _, re := range []*regexp.Regexp{scorePattern, marksPattern} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				return n, true
			}
		}
	}
	// "7/10" or "7 out of 10" only counts when the denominator is the
	// request's total.
	for _, m := range outOfPattern.FindAllStringSubmatch(text, -1) {
		if den, err := strconv.Atoi(m[2]); err == nil && den == maxScore {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func lenientGrade(fields jsonFields, raw string) string {
	if g := strings.ToUpper(strings.TrimSpace(fields.str("grade"))); marking.IsValidGrade(g) {
		return g
	}
	if m := gradePattern.FindStringSubmatch(raw); m != nil {
		if g := strings.ToUpper(m[1]); marking.IsValidGrade(g) {
			return g
		}
	}
	return ""
}

func lenientConfidence(fields jsonFields, raw string) *float64 {
	if n, ok := fields.number("confidenceScore", "confidence"); ok {
		return boundedConfidence(&n)
	}
	if m := confidencePattern.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			return boundedConfidence(&n)
		}
	}
	return nil
}

func uniqueMatches(re *regexp.Regexp, s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(s, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
