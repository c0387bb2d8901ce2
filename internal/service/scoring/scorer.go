// Package scoring combines the AI judgment and the lexical match into the
// final hybrid evaluation.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/skillsift/evalengine/internal/domain"
)

// Scorer blends the semantic score from an AI judgment with the
// deterministic lexical coverage. It carries the configured default weights
// and is stateless beyond them.
type Scorer struct {
	defaults domain.Weights
}

// NewScorer creates a scorer with the given default weights.
func NewScorer(defaults domain.Weights) *Scorer {
	return &Scorer{defaults: defaults}
}

// ResolveWeights validates a per-request override and normalizes the result
// so the two weights sum to 1. A nil override selects the defaults.
func (s *Scorer) ResolveWeights(override *domain.Weights) (domain.Weights, error) {
	w := s.defaults
	if override != nil {
		w = *override
	}
	if !isFinite(w.Semantic) || !isFinite(w.Lexical) {
		return domain.Weights{}, fmt.Errorf("%w: weights must be finite numbers", domain.ErrInvalidArgument)
	}
	if w.Semantic < 0 || w.Lexical < 0 {
		return domain.Weights{}, fmt.Errorf("%w: weights must be non-negative", domain.ErrInvalidArgument)
	}
	sum := w.Semantic + w.Lexical
	if sum <= 0 {
		return domain.Weights{}, fmt.Errorf("%w: weights must not both be zero", domain.ErrInvalidArgument)
	}
	w.Semantic /= sum
	w.Lexical /= sum
	return w, nil
}

// Combine builds the evaluation body from the judgment and the lexical
// result. A nil judgment switches to degraded mode, where the score derives
// solely from lexical coverage. Identity fields (ID, provider, timestamps)
// are filled by the caller.
func (s *Scorer) Combine(judgment *domain.CanonicalAIJudgment, lexical domain.LexicalMatchResult, weights domain.Weights) *domain.Evaluation {
	if judgment == nil {
		return s.combineDegraded(lexical)
	}

	blended := weights.Semantic*judgment.OverallScore + weights.Lexical*lexical.CoverageRatio*100
	ev := &domain.Evaluation{
		OverallScore:    roundScore(blended),
		SectionScores:   map[domain.Section]int{},
		Strengths:       copyList(judgment.Strengths),
		Weaknesses:      copyList(judgment.Weaknesses),
		Recommendations: copyList(judgment.Recommendations),
		MissingSkills:   mergeMissing(judgment.MissingSkills, lexical.MissingSkills),
		LowConfidence:   copyList(judgment.LowConfidence),
	}
	for _, section := range domain.Sections() {
		ev.SectionScores[section] = roundScore(judgment.SectionScores[section])
	}
	return ev
}

// combineDegraded produces a usable evaluation purely from the lexical
// signal, with templated narrative fields so no section of the result is
// empty.
func (s *Scorer) combineDegraded(lexical domain.LexicalMatchResult) *domain.Evaluation {
	coverageScore := roundScore(lexical.CoverageRatio * 100)

	ev := &domain.Evaluation{
		OverallScore:    coverageScore,
		SectionScores:   map[domain.Section]int{},
		MissingSkills:   copyList(lexical.MissingSkills),
		Degraded:        true,
		Weaknesses:      []string{},
		LowConfidence:   []string{},
		Strengths:       degradedStrengths(lexical.MatchedSkills),
		Recommendations: degradedRecommendations(lexical.MissingSkills),
	}
	for _, section := range domain.Sections() {
		ev.SectionScores[section] = 0
	}
	ev.SectionScores[domain.SectionSkills] = coverageScore
	if len(lexical.MissingSkills) > 0 {
		ev.Weaknesses = []string{"Required skills not found in the document: " + strings.Join(lexical.MissingSkills, ", ") + "."}
	}
	return ev
}

func degradedStrengths(matched []string) []string {
	if len(matched) == 0 {
		return []string{"The document was processed with keyword analysis only."}
	}
	return []string{"The document mentions " + strings.Join(matched, ", ") + " from the job description."}
}

func degradedRecommendations(missing []string) []string {
	if len(missing) == 0 {
		return []string{"Resubmit later for a full AI-backed assessment."}
	}
	return []string{"Add evidence of " + strings.Join(missing, ", ") + " to better match the role."}
}

// mergeMissing unions the AI-reported and lexically-derived missing skills,
// de-duplicated case-insensitively with the AI ordering first.
func mergeMissing(fromAI, fromLexical []string) []string {
	merged := []string{}
	seen := map[string]bool{}
	for _, list := range [][]string{fromAI, fromLexical} {
		for _, skill := range list {
			trimmed := strings.TrimSpace(skill)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, trimmed)
		}
	}
	return merged
}

func roundScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}

func copyList(in []string) []string {
	out := make([]string, 0, len(in))
	out = append(out, in...)
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
