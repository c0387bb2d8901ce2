package lexical

import (
	"log/slog"
	"sort"

	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/pkg/textx"
)

// Matcher extracts required skills from a job description and checks which
// of them the candidate document covers. Identical inputs always produce
// identical results.
type Matcher struct {
	dict *Dictionary
}

// NewMatcher creates a matcher over the given dictionary.
func NewMatcher(dict *Dictionary) *Matcher {
	return &Matcher{dict: dict}
}

// Match computes the lexical overlap between the document and the job
// description. Required skills are the dictionary skills found in the job
// description, ordered by first occurrence. Coverage is matched over
// required, or 0 when the job description yields no recognized skills.
func (m *Matcher) Match(documentText, jobDescription string) domain.LexicalMatchResult {
	required := m.dict.scan(textx.Tokens(jobDescription))
	inDocument := m.dict.scan(textx.Tokens(documentText))

	ordered := make([]string, 0, len(required))
	for name := range required {
		ordered = append(ordered, name)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if required[ordered[i]] != required[ordered[j]] {
			return required[ordered[i]] < required[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	result := domain.LexicalMatchResult{
		MatchedSkills: []string{},
		MissingSkills: []string{},
	}
	for _, name := range ordered {
		if _, ok := inDocument[name]; ok {
			result.MatchedSkills = append(result.MatchedSkills, name)
		} else {
			result.MissingSkills = append(result.MissingSkills, name)
		}
	}
	if len(ordered) > 0 {
		result.CoverageRatio = float64(len(result.MatchedSkills)) / float64(len(ordered))
	}

	slog.Debug("lexical match completed",
		slog.Int("required", len(ordered)),
		slog.Int("matched", len(result.MatchedSkills)),
		slog.Int("missing", len(result.MissingSkills)),
		slog.Float64("coverage", result.CoverageRatio))
	return result
}
