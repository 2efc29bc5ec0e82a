package grading

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// DefaultConfidence is used when the reply has no confidence line.
const DefaultConfidence = 70

// ParseStatus says how much of the reply the parser understood. It is separate from the
// grading confidence the model reports.
type ParseStatus string

// Parse statuses. Anything but ParseComplete needs human review.
const (
	ParseComplete ParseStatus = "complete"
	ParsePartial  ParseStatus = "partial"
	ParseFailed   ParseStatus = "failed"
)

// Result is what the parser extracted. Score and Confidence are not clamped yet.
type Result struct {
	Score      float64
	Confidence float64
	Feedback   string
	Status     ParseStatus
}

// Found reports whether the score and confidence lines were both present.
func (r Result) Found() bool { return r.Status == ParseComplete }

// labelPattern matches "<label>: <number>" anywhere on a line, so list numbering, headings,
// table cells and inline prose before the label do not matter. Between label and number it
// tolerates markdown emphasis, an ASCII or full-width colon, a table pipe and a sign. Longer
// labels that merely start with label (คะแนนเต็ม) do not match.
func labelPattern(label string) *regexp.Regexp {
	const (
		ws       = `[^\S\n]*`
		emphasis = `(?:\*\*|__|\*|_)?`
	)

	return regexp.MustCompile(regexp.QuoteMeta(label) +
		ws + emphasis + ws + `[:：|]?` + ws + emphasis + ws + `([+-]?\d+(?:\.\d+)?)`)
}

var (
	scorePattern      = labelPattern(LabelScore)
	confidencePattern = labelPattern(LabelConfidence)
)

// Parser turns a raw model reply into a Result.
type Parser struct {
	// FallbackConfidence replaces a missing confidence.
	FallbackConfidence float64
}

// NewParser returns a Parser with the given fallback confidence, clamped to [0, 100].
func NewParser(fallbackConfidence float64) Parser {
	return Parser{FallbackConfidence: ClampConfidence(fallbackConfidence)}
}

// DefaultParser falls back to DefaultConfidence.
func DefaultParser() Parser {
	return NewParser(DefaultConfidence)
}

// Parse never fails: a missing score becomes 0, a missing confidence the fallback, and the
// reply minus the lines holding the score and confidence is kept as feedback.
func (p Parser) Parse(raw string) Result {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	res := Result{Confidence: p.FallbackConfidence}
	found := 0

	var consumed []int

	if v, at, ok := firstNumber(scorePattern, text); ok {
		res.Score = v
		consumed = append(consumed, at)
		found++
	}

	if v, at, ok := firstNumber(confidencePattern, text); ok {
		res.Confidence = v
		consumed = append(consumed, at)
		found++
	}

	switch found {
	case 2:
		res.Status = ParseComplete
	case 1:
		res.Status = ParsePartial
	default:
		res.Status = ParseFailed
	}

	res.Feedback = feedback(text, consumed)

	return res
}

// firstNumber returns the first labelled number and the byte offset where its match starts.
func firstNumber(re *regexp.Regexp, text string) (float64, int, bool) {
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, 0, false
	}

	v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, 0, false
	}

	return v, m[0], true
}

// feedback drops the lines containing the given offsets. If nothing else is left, the trimmed
// reply is kept.
func feedback(text string, consumed []int) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	lineStart := 0

	for _, line := range lines {
		lineEnd := lineStart + len(line)

		if !slices.ContainsFunc(consumed, func(at int) bool { return at >= lineStart && at < lineEnd }) {
			kept = append(kept, line)
		}

		lineStart = lineEnd + 1
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if out == "" {
		return strings.TrimSpace(text)
	}

	return out
}

// ClampScore limits v to [0, maxScore]. NaN becomes 0.
func ClampScore(v float64, maxScore int) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}

	return math.Min(v, float64(maxScore))
}

// ClampConfidence limits v to [0, 100]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}

	return math.Min(v, 100)
}
