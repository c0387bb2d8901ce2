package providers

import (
	"strings"

	"github.com/skillsift/evalengine/internal/adapter/ai/tokencount"
)

// systemPrompt sets the judge persona shared by every wire family.
const systemPrompt = "You are an expert HR professional and recruiter. " +
	"You evaluate candidate documents against job descriptions and respond only with valid JSON."

// userPromptTemplate spells out the response contract inline. Scores are
// requested on the 0-100 scale for every canonical section so no rescaling is
// needed downstream.
const userPromptTemplate = `Analyze the following candidate document against the job description.

JOB DESCRIPTION:
%JOB%

CANDIDATE DOCUMENT:
%DOC%

Respond with a single JSON object in exactly this format:
{
  "overall_score": <0-100>,
  "section_scores": {
    "summary": <0-100>,
    "skills": <0-100>,
    "experience": <0-100>,
    "education": <0-100>,
    "certifications": <0-100>,
    "overall_fit": <0-100>
  },
  "strengths": ["<strength>", ...],
  "weaknesses": ["<weakness>", ...],
  "missing_skills": ["<skill named in the job description but absent from the document>", ...],
  "recommendations": ["<specific, actionable recommendation>", ...]
}

Score each section strictly against the job description. Make sure to return valid JSON and nothing else.`

// Prompter renders the judgment prompt pair within a token budget. When the
// budget is exceeded the candidate document is truncated first; the job
// description and the response contract survive intact.
type Prompter struct {
	counter   *tokencount.Counter
	maxTokens int
}

// NewPrompter builds a Prompter. maxTokens <= 0 disables truncation.
func NewPrompter(counter *tokencount.Counter, maxTokens int) *Prompter {
	if counter == nil {
		counter = tokencount.DefaultCounter
	}
	return &Prompter{counter: counter, maxTokens: maxTokens}
}

// Build renders the system and user prompts for one evaluation request.
func (p *Prompter) Build(model, documentText, jobDescription string) (system, user string) {
	user = renderUser(documentText, jobDescription)
	if p.maxTokens <= 0 {
		return systemPrompt, user
	}
	total, err := p.counter.CountChatTokens(systemPrompt, user, model)
	if err != nil || total <= p.maxTokens {
		return systemPrompt, user
	}

	// Everything except the document is fixed cost; the document gets
	// whatever budget remains, floored so a pathological job description
	// cannot squeeze it to nothing.
	fixed, err := p.counter.CountChatTokens(systemPrompt, renderUser("", jobDescription), model)
	if err != nil {
		return systemPrompt, user
	}
	docBudget := p.maxTokens - fixed
	if docBudget < 256 {
		docBudget = 256
	}
	truncated := p.counter.Truncate(documentText, model, docBudget)
	return systemPrompt, renderUser(truncated, jobDescription)
}

func renderUser(documentText, jobDescription string) string {
	out := strings.Replace(userPromptTemplate, "%JOB%", jobDescription, 1)
	return strings.Replace(out, "%DOC%", documentText, 1)
}
