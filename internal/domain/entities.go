// Package domain defines the core entities, error taxonomy, and ports of the
// evaluation engine. Adapters depend on this package, never the other way
// around.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
	ErrUpstreamRateLimit  = errors.New("upstream rate limit")
	ErrUpstreamTransient  = errors.New("upstream transient failure")
	ErrUpstreamPermanent  = errors.New("upstream permanent failure")
	ErrCredentialInvalid  = errors.New("credential invalid")
	ErrModelUnsupported   = errors.New("model unsupported")
	ErrSchemaInvalid      = errors.New("schema invalid")
	ErrProvidersExhausted = errors.New("all providers exhausted")
	ErrInternal           = errors.New("internal error")
)

// IsTransient reports whether err is a provider failure worth retrying on the
// same provider (network trouble, timeout, quota, 5xx).
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrUpstreamRateLimit) ||
		errors.Is(err, ErrUpstreamTransient)
}

// IsPermanent reports whether err rules a provider out for this request
// entirely (bad credential shape, unsupported model, 4xx). Permanent failures
// skip the retry loop and go straight to the fallback chain.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUpstreamPermanent) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrModelUnsupported)
}

// RateLimitError wraps ErrUpstreamRateLimit and carries the provider's
// Retry-After hint so the registry can size its block window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return "upstream rate limit (retry after " + e.RetryAfter.String() + ")"
	}
	return ErrUpstreamRateLimit.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrUpstreamRateLimit }

// RetryAfterHint extracts the Retry-After duration from err, zero when the
// error carries none.
func RetryAfterHint(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// Section enumerates the fixed set of judgment sections. Every evaluation
// carries a score for each of them.
type Section string

const (
	SectionSummary        Section = "summary"
	SectionSkills         Section = "skills"
	SectionExperience     Section = "experience"
	SectionEducation      Section = "education"
	SectionCertifications Section = "certifications"
	SectionOverallFit     Section = "overall_fit"
)

// Sections returns the canonical section order.
func Sections() []Section {
	return []Section{
		SectionSummary,
		SectionSkills,
		SectionExperience,
		SectionEducation,
		SectionCertifications,
		SectionOverallFit,
	}
}

// SectionFromName maps loosely spelled section names from provider output
// ("Overall Fit", "overall-fit") onto the canonical enum.
func SectionFromName(name string) (Section, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	n = strings.ReplaceAll(n, " ", "_")
	switch Section(n) {
	case SectionSummary, SectionSkills, SectionExperience, SectionEducation, SectionCertifications, SectionOverallFit:
		return Section(n), true
	}
	return "", false
}

// Weights controls the semantic/lexical split of the hybrid score.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

// DefaultWeights returns the standard 0.7 semantic / 0.3 lexical split.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, Lexical: 0.3}
}

// EvaluationRequest is the immutable input of one evaluation.
// Invariants: DocumentText and JobDescription non-empty after normalization;
// Credential is passed through to exactly one provider call and never
// persisted, logged, or mixed into cache keys by value.
type EvaluationRequest struct {
	RequestID      string
	DocumentText   string
	JobDescription string
	ProviderID     string
	ModelID        string
	Credential     string
	Weights        *Weights
}

// CanonicalAIJudgment is the backend-agnostic shape every provider reply is
// normalized into before scoring. All scores live in [0,100]; fields that had
// to be defaulted, clamped, or coerced during repair are listed in
// LowConfidence as dotted paths (e.g. "section_scores.education").
type CanonicalAIJudgment struct {
	OverallScore    float64             `json:"overall_score"`
	SectionScores   map[Section]float64 `json:"section_scores"`
	Strengths       []string            `json:"strengths"`
	Weaknesses      []string            `json:"weaknesses"`
	MissingSkills   []string            `json:"missing_skills"`
	Recommendations []string            `json:"recommendations"`
	LowConfidence   []string            `json:"low_confidence,omitempty"`
}

// LexicalMatchResult is the deterministic skill-overlap outcome.
// CoverageRatio = matched/required, 0 when the job description yields no
// extractable skills. Order of both slices follows first occurrence in the
// job description so identical inputs produce identical results.
type LexicalMatchResult struct {
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
	CoverageRatio float64  `json:"coverage_ratio"`
}

// Evaluation is the final, immutable outcome of one request. JSON-safe, never
// contains credential material.
type Evaluation struct {
	ID                     string          `json:"id"`
	OverallScore           int             `json:"overall_score"`
	SectionScores          map[Section]int `json:"section_scores"`
	Strengths              []string        `json:"strengths"`
	Weaknesses             []string        `json:"weaknesses"`
	MissingSkills          []string        `json:"missing_skills"`
	Recommendations        []string        `json:"recommendations"`
	ProviderUsed           string          `json:"provider_used"`
	ModelUsed              string          `json:"model_used"`
	FallbackChainExhausted bool            `json:"fallback_chain_exhausted"`
	Degraded               bool            `json:"degraded"`
	LowConfidence          []string        `json:"low_confidence,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

// EvaluationStatus tracks async pipeline records.
type EvaluationStatus string

const (
	EvaluationQueued     EvaluationStatus = "queued"
	EvaluationProcessing EvaluationStatus = "processing"
	EvaluationCompleted  EvaluationStatus = "completed"
	EvaluationFailed     EvaluationStatus = "failed"
)

// EvaluationRecord is the minimal persisted record for async flows: id,
// status, the Evaluation JSON once completed, and an error string for
// input-rejected jobs. Nothing else crosses the storage boundary.
type EvaluationRecord struct {
	ID        string
	Status    EvaluationStatus
	Result    *Evaluation
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderConfig is static per-provider metadata, loaded once at process
// start and read-only afterward. Configured records whether a process-level
// credential exists for the provider; the credential value itself never
// appears here.
type ProviderConfig struct {
	ID               string
	DisplayName      string
	BaseURL          string
	DefaultModel     string
	SupportedModels  []string
	RateLimitPerMin  int
	Timeout          time.Duration
	MaxAttempts      int
	CredentialPrefix string
	CredentialMinLen int
	Configured       bool
}

// SupportsModel reports whether model is in the configured set. An empty
// SupportedModels list means any model id is accepted.
func (pc ProviderConfig) SupportsModel(model string) bool {
	if len(pc.SupportedModels) == 0 {
		return true
	}
	for _, m := range pc.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// ProviderStatus is one row of the operational health surface.
type ProviderStatus struct {
	ID                  string        `json:"id"`
	Available           bool          `json:"available"`
	BlockedFor          time.Duration `json:"blocked_for"`
	Successes           uint64        `json:"successes"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// EvaluationTaskPayload travels over the queue for async evaluations.
// It deliberately has no credential field: workers resolve credentials from
// their own process configuration at call time.
type EvaluationTaskPayload struct {
	ID             string   `json:"id"`
	DocumentText   string   `json:"document_text"`
	JobDescription string   `json:"job_description"`
	ProviderID     string   `json:"provider_id,omitempty"`
	ModelID        string   `json:"model_id,omitempty"`
	Weights        *Weights `json:"weights,omitempty"`
}

// Ports

// ProviderAdapter performs exactly one inference call per Invoke and returns
// the raw assistant text. Classification of failures happens through the
// error taxonomy above; adapters never log or persist the credential or the
// document text.
type ProviderAdapter interface {
	ID() string
	Invoke(ctx Context, req EvaluationRequest) (string, error)
}

// ProviderRegistry tracks which adapters exist, which are temporarily blocked,
// and orders the fallback chain. Mark* calls feed its health bookkeeping.
type ProviderRegistry interface {
	Select(requestedID string, excluded map[string]bool) (ProviderAdapter, ProviderConfig, error)
	MarkSuccess(id string)
	MarkFailure(id string, err error)
	Health() []ProviderStatus
}

// ResultCache de-duplicates finished evaluations by derived key.
type ResultCache interface {
	Get(ctx Context, key string) (Evaluation, bool, error)
	Set(ctx Context, key string, ev Evaluation) error
}

// EvaluationStore persists the minimal async record.
type EvaluationStore interface {
	Create(ctx Context, rec EvaluationRecord) error
	UpdateStatus(ctx Context, id string, status EvaluationStatus, errMsg *string) error
	SaveResult(ctx Context, id string, ev Evaluation) error
	Get(ctx Context, id string) (EvaluationRecord, error)
}

// Queue enqueues evaluation tasks for the worker fleet.
type Queue interface {
	EnqueueEvaluation(ctx Context, payload EvaluationTaskPayload) (string, error)
}

// Context is an alias so domain signatures stay decoupled from call sites;
// adapters and usecases pass context.Context through.
type Context = context.Context
