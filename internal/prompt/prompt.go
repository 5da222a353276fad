// Package prompt assembles marking prompts. Assembly is deterministic: the
// same request and strategy always produce the same text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jkaninda/alama/internal/marking"
)

// Strategy is a prompt framing. Primary is validated strictly; the others are
// fallbacks for models that ignore the primary output schema and are
// validated leniently.
type Strategy string

const (
	Primary         Strategy = "primary"
	SimpleJSON      Strategy = "simple_json"
	Structured      Strategy = "structured"
	ConstrainedText Strategy = "constrained_text"
)

// FallbackStrategies is the order alternate framings are tried in.
var FallbackStrategies = []Strategy{SimpleJSON, Structured, ConstrainedText}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Primary, SimpleJSON, Structured, ConstrainedText:
		return st, nil
	case "":
		return Primary, nil
	default:
		return "", fmt.Errorf("unknown prompt strategy %q", s)
	}
}

// Mode returns the validation mode used for output produced by s.
func (s Strategy) Mode() marking.ValidationMode {
	if s == Primary || s == "" {
		return marking.ModeStrict
	}
	return marking.ModeLenient
}

// Prompt is a system instruction plus the user message sent to a model.
type Prompt struct {
	System string
	User   string
}

// assessmentObjectives are described to the model when the request has no
// mark scheme of its own.
var assessmentObjectives = []string{
	"AO1: demonstrate knowledge and understanding of the relevant content",
	"AO2: apply knowledge and understanding to the context of the question",
	"AO3: analyse and interpret information to reach reasoned judgements",
	"AO4: evaluate and communicate conclusions clearly and accurately",
}

// Build returns the prompt for req framed by strategy. Sections always
// appear in the same order: examiner framing, question and answer, marking
// criteria, feedback structure, output format, quality reminders.
func Build(req *marking.Request, strategy Strategy) Prompt {
	var b strings.Builder
	writeExaminer(&b, req)
	writeQuestion(&b, req)
	writeCriteria(&b, req)
	writeFeedbackStructure(&b)
	writeOutputFormat(&b, req, strategy)
	writeQualityReminders(&b, strategy)

	return Prompt{
		System: systemPrompt(strategy),
		User:   strings.TrimRight(b.String(), "\n"),
	}
}

func systemPrompt(strategy Strategy) string {
	switch strategy {
	case ConstrainedText:
		return "You are an experienced examiner. Reply using only the labelled lines requested."
	case SimpleJSON, Structured:
		return "You are an experienced examiner. Reply with a single JSON object and nothing else."
	default:
		return "You are an experienced examiner marking student answers. Reply with valid JSON only, no markdown and no commentary."
	}
}

func writeExaminer(b *strings.Builder, req *marking.Request) {
	b.WriteString("## Examiner\n")
	subject := orDefault(req.Subject, "General")
	if req.ExamBoard != "" {
		fmt.Fprintf(b, "You are a senior %s examiner for %s.\n", subject, req.ExamBoard)
	} else {
		fmt.Fprintf(b, "You are a senior %s examiner.\n", subject)
	}
	fmt.Fprintf(b, "Mark the answer below out of %d.\n\n", req.MaxScore())
}

func writeQuestion(b *strings.Builder, req *marking.Request) {
	b.WriteString("## Question\n")
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\n\n## Student answer\n")
	b.WriteString(strings.TrimSpace(req.Answer))
	b.WriteString("\n\n")
}

func writeCriteria(b *strings.Builder, req *marking.Request) {
	b.WriteString("## Marking criteria\n")
	if ms := strings.TrimSpace(req.MarkScheme); ms != "" {
		b.WriteString("Mark scheme:\n")
		b.WriteString(ms)
		b.WriteString("\n")
	}
	b.WriteString("Assessment objectives:\n")
	for _, ao := range assessmentObjectives {
		fmt.Fprintf(b, "- %s\n", ao)
	}
	b.WriteString("\n")
}

func writeFeedbackStructure(b *strings.Builder) {
	b.WriteString("## Feedback structure\n")
	b.WriteString("- State which assessment objectives the answer meets.\n")
	b.WriteString("- Give between 1 and 5 specific improvement suggestions.\n")
	b.WriteString("- Write detailed feedback that explains the mark awarded.\n\n")
}

func writeOutputFormat(b *strings.Builder, req *marking.Request, strategy Strategy) {
	b.WriteString("## Output format\n")
	maxScore := req.MaxScore()
	switch strategy {
	case SimpleJSON:
		fmt.Fprintf(b, `Return JSON: {"score": <0-%d>, "grade": "<9-1 or U>", "feedback": "<text>"}`+"\n\n", maxScore)
	case Structured:
		fmt.Fprintf(b, "Return JSON with keys score (integer 0-%d), grade, aosMet (array), improvementSuggestions (array), detailedFeedback (string).\n\n", maxScore)
	case ConstrainedText:
		fmt.Fprintf(b, "Answer with exactly these lines:\nScore: <integer 0-%d>\nGrade: <9-1 or U>\nFeedback: <one paragraph>\n\n", maxScore)
	default:
		b.WriteString("Return a JSON object with exactly these fields:\n")
		fmt.Fprintf(b, "- \"score\": integer from 0 to %d\n", maxScore)
		b.WriteString("- \"grade\": one of \"9\" to \"1\" or \"U\"\n")
		b.WriteString("- \"aosMet\": array of assessment objectives met, at least one\n")
		b.WriteString("- \"improvementSuggestions\": array of 1 to 5 suggestions, each at least 10 characters\n")
		b.WriteString("- \"detailedFeedback\": at least 50 characters\n")
		b.WriteString("- \"confidenceScore\": number from 0 to 1\n\n")
	}
}

func writeQualityReminders(b *strings.Builder, strategy Strategy) {
	b.WriteString("## Quality standards\n")
	b.WriteString("- Be consistent with how an examiner would mark this answer.\n")
	b.WriteString("- Do not award marks for content that is not in the answer.\n")
	if strategy == ConstrainedText {
		b.WriteString("- Do not add any other lines.\n")
	} else {
		b.WriteString("- Do not wrap the JSON in markdown fences.\n")
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
