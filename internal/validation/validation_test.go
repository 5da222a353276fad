package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/jkaninda/alama/internal/marking"
)

const longFeedback = "The answer identifies the key idea correctly but does not develop the explanation with evidence."

func validJSON(score int, grade string) string {
	g := ""
	if grade != "" {
		g = fmt.Sprintf(`"grade": %q,`, grade)
	}
	return fmt.Sprintf(`{
		"score": %d,
		%s
		"aosMet": ["AO1", "AO2"],
		"improvementSuggestions": ["Use more technical vocabulary", "Add a worked example"],
		"detailedFeedback": %q,
		"confidenceScore": 0.8
	}`, score, g, longFeedback)
}

func TestStrict_ValidResponse(t *testing.T) {
	v := New()
	resp, err := v.Strict(validJSON(72, "6"), "openrouter/model-a", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 72 || resp.Grade != "6" {
		t.Errorf("unexpected score/grade: %d/%q", resp.Score, resp.Grade)
	}
	if resp.ModelUsed != "openrouter/model-a" {
		t.Errorf("unexpected model %q", resp.ModelUsed)
	}
	if len(resp.AOsMet) != 2 || len(resp.ImprovementSuggestions) != 2 {
		t.Errorf("unexpected lists: %+v", resp)
	}
	if resp.ConfidenceScore == nil || *resp.ConfidenceScore != 0.8 {
		t.Errorf("unexpected confidence: %v", resp.ConfidenceScore)
	}
	if resp.Synthetic() {
		t.Error("strict responses must not be synthetic")
	}
}

func TestStrict_DerivesMissingGrade(t *testing.T) {
	resp, err := New().Strict(validJSON(16, ""), "m", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := marking.GradeForScore(16, 20); resp.Grade != want {
		t.Errorf("expected ladder grade %q, got %q", want, resp.Grade)
	}
}

func TestStrict_ExtractsFromFencesAndProse(t *testing.T) {
	v := New()
	fenced := "```json\n" + validJSON(50, "4") + "\n```"
	if _, err := v.Strict(fenced, "m", 100); err != nil {
		t.Errorf("fenced JSON: %v", err)
	}
	prose := "Here is my marking:\n" + validJSON(50, "4") + "\nThanks!"
	if _, err := v.Strict(prose, "m", 100); err != nil {
		t.Errorf("JSON in prose: %v", err)
	}
}

func TestStrict_AcceptsFieldAliases(t *testing.T) {
	raw := fmt.Sprintf(`{"score": 5, "assessmentObjectivesMet": ["AO1"],
		"improvementSuggestions": ["Explain the method used"], "aiResponse": %q}`, longFeedback)
	resp, err := New().Strict(raw, "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AOsMet[0] != "AO1" || resp.DetailedFeedback != longFeedback {
		t.Errorf("aliases not folded: %+v", resp)
	}
}

func TestStrict_ClampsRoundingOverflow(t *testing.T) {
	resp, err := New().Strict(validJSON(11, ""), "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 10 {
		t.Errorf("expected clamped score 10, got %d", resp.Score)
	}
	resp, err = New().Strict(validJSON(-1, ""), "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 0 {
		t.Errorf("expected clamped score 0, got %d", resp.Score)
	}
}

func TestStrict_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		max   int
		field string
	}{
		{"empty", "", 100, ""},
		{"no json", "Score: 55", 100, ""},
		{"broken json", `{"score": 5,`, 100, ""},
		{"missing score", strings.Replace(validJSON(5, ""), `"score": 5,`, "", 1), 100, "score"},
		{"score wrong type", strings.Replace(validJSON(5, ""), `"score": 5`, `"score": "5"`, 1), 100, "score"},
		{"score far out of range", validJSON(150, ""), 100, "score"},
		{"bad grade", validJSON(50, "A*"), 100, "grade"},
		{"empty aos", strings.Replace(validJSON(5, ""), `["AO1", "AO2"]`, `[]`, 1), 100, "aosMet"},
		{"short feedback", strings.Replace(validJSON(5, ""), longFeedback, "Good.", 1), 100, "detailedFeedback"},
		{"short suggestion", strings.Replace(validJSON(5, ""), "Add a worked example", "More", 1), 100, "improvementSuggestions[1]"},
		{"too many suggestions", strings.Replace(validJSON(5, ""),
			`["Use more technical vocabulary", "Add a worked example"]`,
			`["suggestion one", "suggestion two", "suggestion three", "suggestion four", "suggestion five", "suggestion six"]`, 1),
			100, "improvementSuggestions"},
	}
	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Strict(tt.raw, "m", tt.max)
			var ve *marking.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Mode != marking.ModeStrict {
				t.Errorf("expected strict mode, got %s", ve.Mode)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q (%v)", tt.field, ve.Field, ve)
			}
			if ve.Reason == "" {
				t.Error("expected a diagnostic reason")
			}
		})
	}
}

func TestStrict_HugeScoreReportsOriginalValue(t *testing.T) {
	raw := strings.Replace(validJSON(5, ""), `"score": 5`, `"score": 1e300`, 1)
	_, err := New().Strict(raw, "m", 100)
	var ve *marking.ValidationError
	if !errors.As(err, &ve) || ve.Field != "score" {
		t.Fatalf("expected a score ValidationError, got %v", err)
	}
	if !strings.Contains(ve.Reason, "1e+300") {
		t.Errorf("expected the model's value in the reason, got %q", ve.Reason)
	}
}

func TestStrict_DropsOutOfRangeConfidence(t *testing.T) {
	raw := strings.Replace(validJSON(5, ""), `"confidenceScore": 0.8`, `"confidenceScore": 42`, 1)
	resp, err := New().Strict(raw, "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ConfidenceScore != nil {
		t.Errorf("expected confidence to be dropped, got %v", *resp.ConfidenceScore)
	}
}

func TestLenient_LabelledText(t *testing.T) {
	resp, err := New().Lenient("Score: 55\nGrade: 5\nFeedback: ...", "m", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 55 {
		t.Errorf("expected score 55, got %d", resp.Score)
	}
	// The ladder would give "4"; the explicit grade wins.
	if resp.Grade != "5" {
		t.Errorf("expected grade 5, got %q", resp.Grade)
	}
	if len(resp.AOsMet) == 0 {
		t.Error("expected placeholder aosMet")
	}
	if !slices.Contains(resp.SyntheticFields, "aosMet") {
		t.Errorf("expected aosMet to be flagged synthetic, got %v", resp.SyntheticFields)
	}
	if len([]rune(resp.DetailedFeedback)) < MinFeedbackLength {
		t.Errorf("feedback shorter than minimum: %q", resp.DetailedFeedback)
	}
	for _, s := range resp.ImprovementSuggestions {
		if len([]rune(s)) < MinSuggestionLength {
			t.Errorf("suggestion shorter than minimum: %q", s)
		}
	}
}

func TestLenient_ConfidenceIsNotTheScore(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"confidence first", "Confidence score: 8\nScore: 55\nGrade: 5\nFeedback: ..."},
		{"score first", "Score: 55\nConfidence score: 8\nGrade: 5\nFeedback: ..."},
		{"bare confidence label", "Confidence: 0.9\nMarks awarded: 55\nGrade: 5"},
	}
	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := v.Lenient(tt.raw, "m", 100)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Score != 55 {
				t.Errorf("expected score 55, got %d", resp.Score)
			}
		})
	}
}

func TestLenient_GradeLadderAgreesWithHelper(t *testing.T) {
	v := New()
	for _, score := range []int{97, 90, 80, 70, 60, 50, 40, 30, 20, 19} {
		resp, err := v.Lenient(fmt.Sprintf("Score: %d", score), "m", 100)
		if err != nil {
			t.Fatalf("score %d: %v", score, err)
		}
		if want := marking.GradeForScore(score, 100); resp.Grade != want {
			t.Errorf("score %d: lenient grade %q, helper %q", score, resp.Grade, want)
		}
	}
}

func TestLenient_PartialJSON(t *testing.T) {
	raw := `{"score": "7 marks", "aosMet": "AO1; AO3", "feedback": "` + longFeedback + `"}`
	resp, err := New().Lenient(raw, "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 7 {
		t.Errorf("expected score 7, got %d", resp.Score)
	}
	if !slices.Equal(resp.AOsMet, []string{"AO1", "AO3"}) {
		t.Errorf("unexpected aos %v", resp.AOsMet)
	}
	if resp.DetailedFeedback != longFeedback {
		t.Errorf("unexpected feedback %q", resp.DetailedFeedback)
	}
	if !slices.Equal(resp.SyntheticFields, []string{"improvementSuggestions"}) {
		t.Errorf("unexpected synthetic fields %v", resp.SyntheticFields)
	}
}

func TestLenient_OutOfPatternAndClamp(t *testing.T) {
	v := New()
	resp, err := v.Lenient("I would give this 8 out of 10. It covers AO2 well.", "m", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 8 || !slices.Equal(resp.AOsMet, []string{"AO2"}) {
		t.Errorf("unexpected response %+v", resp)
	}

	resp, err = v.Lenient("Score: 140", "m", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 100 {
		t.Errorf("expected clamp to 100, got %d", resp.Score)
	}
}

func TestLenient_UnrecoverableScore(t *testing.T) {
	_, err := New().Lenient("This answer is quite good overall.", "m", 100)
	var ve *marking.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Mode != marking.ModeLenient || ve.Field != "score" {
		t.Errorf("unexpected error %+v", ve)
	}
	if marking.Retryable(err) {
		t.Error("lenient failures must not be retryable")
	}
}

func TestParse_Dispatch(t *testing.T) {
	v := New()
	if _, err := v.Parse("Score: 5", "m", 10, marking.ModeStrict); err == nil {
		t.Error("strict parse of plain text should fail")
	}
	if _, err := v.Parse("Score: 5", "m", 10, marking.ModeLenient); err != nil {
		t.Errorf("lenient parse of plain text failed: %v", err)
	}
}
