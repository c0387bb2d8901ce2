// Package ai normalizes provider replies into canonical judgments and
// coordinates provider selection and fallback.
package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
)

// ResponseValidator turns a raw provider reply into a canonical judgment.
// It parses strictly first, then runs one bounded repair pass over the text.
// Scores outside [0,100] are clamped and flagged; unusable score fields
// default to 0 with a low-confidence marker instead of failing the whole
// judgment.
type ResponseValidator struct {
	refusals *RefusalDetector
}

// NewResponseValidator creates a validator with the default refusal patterns.
func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{refusals: NewRefusalDetector()}
}

// rawJudgment keeps every field loose so one malformed field never sinks
// the rest of the reply.
type rawJudgment map[string]json.RawMessage

// Validate parses raw into a canonical judgment. The returned error wraps
// ErrSchemaInvalid when neither the strict parse nor the repair pass yields
// a reply with at least one recognized field.
func (v *ResponseValidator) Validate(raw string) (*domain.CanonicalAIJudgment, error) {
	parsed, ok := parseStrict(raw)
	outcome := observability.RepairStrict
	if !ok {
		parsed, ok = parseRepaired(raw)
		outcome = observability.RepairRepaired
	}
	if !ok || !hasCanonicalField(parsed) {
		observability.RecordRepair(observability.RepairFailed)
		if v.refusals.IsRefusal(raw) {
			slog.Debug("provider reply looks like a refusal", slog.Int("length", len(raw)))
			return nil, fmt.Errorf("%w: provider refused the request", domain.ErrSchemaInvalid)
		}
		return nil, fmt.Errorf("%w: no canonical fields in provider reply", domain.ErrSchemaInvalid)
	}
	observability.RecordRepair(outcome)

	judgment := &domain.CanonicalAIJudgment{
		SectionScores: map[domain.Section]float64{},
		LowConfidence: []string{},
	}
	v.fillOverallScore(parsed, judgment)
	v.fillSectionScores(parsed, judgment)
	judgment.Strengths = stringList(parsed, "strengths")
	judgment.Weaknesses = stringList(parsed, "weaknesses")
	judgment.MissingSkills = stringList(parsed, "missing_skills")
	judgment.Recommendations = stringList(parsed, "recommendations")

	slog.Debug("provider reply validated",
		slog.String("outcome", outcome),
		slog.Float64("overall_score", judgment.OverallScore),
		slog.Int("low_confidence_fields", len(judgment.LowConfidence)))
	return judgment, nil
}

func (v *ResponseValidator) fillOverallScore(parsed rawJudgment, judgment *domain.CanonicalAIJudgment) {
	raw, ok := parsed["overall_score"]
	if !ok {
		raw, ok = parsed["overall_semantic_score"]
	}
	if !ok {
		judgment.OverallScore = 0
		judgment.LowConfidence = append(judgment.LowConfidence, "overall_score")
		return
	}
	score, parsedOK := coerceScore(raw)
	if !parsedOK {
		judgment.OverallScore = 0
		judgment.LowConfidence = append(judgment.LowConfidence, "overall_score")
		return
	}
	clamped, wasClamped := clampScore(score)
	judgment.OverallScore = clamped
	if wasClamped {
		judgment.LowConfidence = append(judgment.LowConfidence, "overall_score")
	}
}

func (v *ResponseValidator) fillSectionScores(parsed rawJudgment, judgment *domain.CanonicalAIJudgment) {
	var sections map[string]json.RawMessage
	if raw, ok := parsed["section_scores"]; ok {
		if err := json.Unmarshal(raw, &sections); err != nil {
			sections = nil
		}
	}

	bySection := map[domain.Section]json.RawMessage{}
	for name, raw := range sections {
		section, ok := domain.SectionFromName(name)
		if !ok {
			continue
		}
		bySection[section] = raw
	}

	for _, section := range domain.Sections() {
		marker := "section_scores." + string(section)
		raw, ok := bySection[section]
		if !ok {
			judgment.SectionScores[section] = 0
			judgment.LowConfidence = append(judgment.LowConfidence, marker)
			continue
		}
		score, parsedOK := coerceScore(raw)
		if !parsedOK {
			judgment.SectionScores[section] = 0
			judgment.LowConfidence = append(judgment.LowConfidence, marker)
			continue
		}
		clamped, wasClamped := clampScore(score)
		judgment.SectionScores[section] = clamped
		if wasClamped {
			judgment.LowConfidence = append(judgment.LowConfidence, marker)
		}
	}
}

func parseStrict(raw string) (rawJudgment, bool) {
	var parsed rawJudgment
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// parseRepaired runs the bounded repair chain: strip markdown fences,
// extract the first balanced object from surrounding prose, then fix
// trailing commas and bare keys, and as a last resort swap single quotes.
func parseRepaired(raw string) (rawJudgment, bool) {
	cleaned := stripMarkdownFences(raw)
	cleaned = extractBalancedObject(cleaned)

	candidates := []string{
		cleaned,
		quoteBareKeys(fixTrailingCommas(cleaned)),
		strings.ReplaceAll(quoteBareKeys(fixTrailingCommas(cleaned)), "'", `"`),
	}
	for _, candidate := range candidates {
		if parsed, ok := parseStrict(candidate); ok {
			return parsed, true
		}
	}
	return nil, false
}

func stripMarkdownFences(raw string) string {
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(raw)
}

// extractBalancedObject returns the first balanced {...} fragment, tracking
// string literals so braces inside values do not break the count.
func extractBalancedObject(raw string) string {
	start := strings.Index(raw, "{")
	if start == -1 {
		return raw
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)(\w+)\s*:`)
	fractionRe      = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)$`)
)

func fixTrailingCommas(raw string) string {
	return trailingCommaRe.ReplaceAllString(raw, "$1")
}

func quoteBareKeys(raw string) string {
	return bareKeyRe.ReplaceAllString(raw, `$1"$2":`)
}

func hasCanonicalField(parsed rawJudgment) bool {
	for _, key := range []string{
		"overall_score", "overall_semantic_score", "section_scores",
		"strengths", "weaknesses", "missing_skills", "recommendations",
	} {
		if _, ok := parsed[key]; ok {
			return true
		}
	}
	return false
}

// coerceScore accepts numbers as well as strings like "85", "85%" and
// "8.5/10" and converts them onto the 0..100 scale.
func coerceScore(raw json.RawMessage) (float64, bool) {
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		if math.IsNaN(number) || math.IsInf(number, 0) {
			return 0, false
		}
		return number, true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	if m := fractionRe.FindStringSubmatch(text); m != nil {
		numerator, err1 := strconv.ParseFloat(m[1], 64)
		denominator, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || denominator == 0 {
			return 0, false
		}
		return numerator / denominator * 100, true
	}

	if strings.HasSuffix(text, "%") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func clampScore(v float64) (float64, bool) {
	if v < 0 {
		return 0, true
	}
	if v > 100 {
		return 100, true
	}
	return v, false
}

func stringList(parsed rawJudgment, key string) []string {
	raw, ok := parsed[key]
	if !ok {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		// A single string still counts as a one-element list.
		var single string
		if err := json.Unmarshal(raw, &single); err != nil || strings.TrimSpace(single) == "" {
			return []string{}
		}
		return []string{single}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
