// Package providers implements the wire adapters for the supported AI
// backends. Four request shapes cover the eight providers: the
// OpenAI-compatible chat completions family (openai, xai, mistral,
// perplexity, together), Gemini generateContent, Anthropic messages, and
// Cohere chat. Every adapter performs exactly one HTTP call per Invoke and
// maps failures onto the domain error taxonomy; retry and fallback policy
// belong to the caller.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/skillsift/evalengine/internal/adapter/ai/tokencount"
	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/config"
	"github.com/skillsift/evalengine/internal/domain"
)

// Provider ids. These are the only values accepted in requests and in
// PROVIDER_PRIORITY.
const (
	IDOpenAI     = "openai"
	IDGemini     = "gemini"
	IDAnthropic  = "anthropic"
	IDCohere     = "cohere"
	IDXAI        = "xai"
	IDMistral    = "mistral"
	IDPerplexity = "perplexity"
	IDTogether   = "together"
)

const (
	temperature     = 0.2
	maxOutputTokens = 3000
	snippetLimit    = 512

	anthropicVersion = "2023-06-01"
)

// Catalog returns the static metadata for all eight providers derived from
// cfg. Credential values stay out of the result; only Configured records
// whether one exists in the environment.
func Catalog(cfg config.Config) []domain.ProviderConfig {
	specs := []struct {
		id, display, baseURL, model, credPrefix, key string
	}{
		{IDOpenAI, "OpenAI", cfg.OpenAIBaseURL, cfg.OpenAIModel, "sk-", cfg.OpenAIAPIKey},
		{IDGemini, "Google Gemini", cfg.GeminiBaseURL, cfg.GeminiModel, "AI", cfg.GeminiAPIKey},
		{IDAnthropic, "Anthropic", cfg.AnthropicBaseURL, cfg.AnthropicModel, "sk-ant-", cfg.AnthropicAPIKey},
		{IDCohere, "Cohere", cfg.CohereBaseURL, cfg.CohereModel, "", cfg.CohereAPIKey},
		{IDXAI, "xAI", cfg.XAIBaseURL, cfg.XAIModel, "", cfg.XAIAPIKey},
		{IDMistral, "Mistral AI", cfg.MistralBaseURL, cfg.MistralModel, "", cfg.MistralAPIKey},
		{IDPerplexity, "Perplexity", cfg.PerplexityBaseURL, cfg.PerplexityModel, "", cfg.PerplexityAPIKey},
		{IDTogether, "Together AI", cfg.TogetherBaseURL, cfg.TogetherModel, "", cfg.TogetherAPIKey},
	}
	out := make([]domain.ProviderConfig, 0, len(specs))
	for _, s := range specs {
		out = append(out, domain.ProviderConfig{
			ID:               s.id,
			DisplayName:      s.display,
			BaseURL:          strings.TrimRight(s.baseURL, "/"),
			DefaultModel:     s.model,
			RateLimitPerMin:  cfg.ProviderRateLimitPerMin,
			Timeout:          cfg.AITimeout,
			MaxAttempts:      cfg.AIMaxAttempts,
			CredentialPrefix: s.credPrefix,
			CredentialMinLen: 20,
			Configured:       s.key != "",
		})
	}
	return out
}

// New builds one wire adapter per catalog entry. All adapters share hc, so
// the caller decides transport instrumentation and the per-call timeout once.
func New(cfg config.Config, hc *http.Client) ([]domain.ProviderAdapter, []domain.ProviderConfig, error) {
	catalog := Catalog(cfg)
	prompter := NewPrompter(tokencount.DefaultCounter, cfg.MaxPromptTokens)
	adapters := make([]domain.ProviderAdapter, 0, len(catalog))
	for _, pc := range catalog {
		b := base{cfg: pc, envCred: credentialFor(cfg, pc.ID), hc: hc, prompter: prompter}
		switch pc.ID {
		case IDOpenAI, IDXAI, IDMistral, IDPerplexity, IDTogether:
			adapters = append(adapters, &OpenAICompat{base: b})
		case IDGemini:
			adapters = append(adapters, &Gemini{base: b})
		case IDAnthropic:
			adapters = append(adapters, &Anthropic{base: b})
		case IDCohere:
			adapters = append(adapters, &Cohere{base: b})
		default:
			return nil, nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, pc.ID)
		}
	}
	return adapters, catalog, nil
}

// NewHTTPClient returns the outbound client shared by the adapters, with an
// OTEL-instrumented transport and the per-call timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func credentialFor(cfg config.Config, id string) string {
	switch id {
	case IDOpenAI:
		return cfg.OpenAIAPIKey
	case IDGemini:
		return cfg.GeminiAPIKey
	case IDAnthropic:
		return cfg.AnthropicAPIKey
	case IDCohere:
		return cfg.CohereAPIKey
	case IDXAI:
		return cfg.XAIAPIKey
	case IDMistral:
		return cfg.MistralAPIKey
	case IDPerplexity:
		return cfg.PerplexityAPIKey
	case IDTogether:
		return cfg.TogetherAPIKey
	}
	return ""
}

// CheckCredentialShape rejects obviously malformed credentials before any
// network traffic. Shape failures are permanent for this provider.
func CheckCredentialShape(cfg domain.ProviderConfig, cred string) error {
	if cred == "" {
		return fmt.Errorf("%w: no credential for %s", domain.ErrCredentialInvalid, cfg.ID)
	}
	if cfg.CredentialMinLen > 0 && len(cred) < cfg.CredentialMinLen {
		return fmt.Errorf("%w: %s credential shorter than %d characters", domain.ErrCredentialInvalid, cfg.ID, cfg.CredentialMinLen)
	}
	if cfg.CredentialPrefix != "" && !strings.HasPrefix(cred, cfg.CredentialPrefix) {
		return fmt.Errorf("%w: %s credential must start with %q", domain.ErrCredentialInvalid, cfg.ID, cfg.CredentialPrefix)
	}
	return nil
}

// base carries what every wire family needs: static metadata, the process
// credential, the shared HTTP client, and the prompt renderer.
type base struct {
	cfg      domain.ProviderConfig
	envCred  string
	hc       *http.Client
	prompter *Prompter
}

// ID implements domain.ProviderAdapter.
func (b *base) ID() string { return b.cfg.ID }

// credential picks the per-request credential, falling back to the process
// one, and validates its shape. The value never reaches logs or metrics.
func (b *base) credential(req domain.EvaluationRequest) (string, error) {
	cred := req.Credential
	if cred == "" {
		cred = b.envCred
	}
	if err := CheckCredentialShape(b.cfg, cred); err != nil {
		return "", err
	}
	return cred, nil
}

func (b *base) model(req domain.EvaluationRequest) (string, error) {
	model := req.ModelID
	if model == "" {
		model = b.cfg.DefaultModel
	}
	if !b.cfg.SupportsModel(model) {
		return "", fmt.Errorf("%w: %s does not serve %q", domain.ErrModelUnsupported, b.cfg.ID, model)
	}
	return model, nil
}

// send executes exactly one request and classifies the outcome. The returned
// bytes are the full 2xx response body.
func (b *base) send(r *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := b.hc.Do(r)
	if err != nil {
		cerr := classifyTransportError(b.cfg.ID, err)
		observability.ObserveProviderCall(b.cfg.ID, outcomeForError(cerr), time.Since(start).Seconds())
		return nil, cerr
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveProviderCall(b.cfg.ID, observability.OutcomeTransient, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s: read response: %v", domain.ErrUpstreamTransient, b.cfg.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cerr := classifyStatus(b.cfg.ID, resp.StatusCode, resp.Header, snippet(bodyBytes))
		observability.ObserveProviderCall(b.cfg.ID, outcomeForError(cerr), time.Since(start).Seconds())
		return nil, cerr
	}
	observability.ObserveProviderCall(b.cfg.ID, observability.OutcomeSuccess, time.Since(start).Seconds())
	return bodyBytes, nil
}

// classifyTransportError maps connection-level failures. Caller cancellation
// passes through untouched so retry loops can stop.
func classifyTransportError(providerID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTimeout, providerID, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTransient, providerID, err)
}

// classifyStatus maps an HTTP status onto the error taxonomy. 401, 403, 404,
// and the remaining 4xx range are permanent for this provider; 408, 429, and
// all 5xx are transient. 429 carries the Retry-After hint when present.
func classifyStatus(providerID string, status int, header http.Header, bodySnippet string) error {
	switch {
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s status %d", domain.ErrUpstreamTimeout, providerID, status)
	case status == http.StatusTooManyRequests:
		rle := &domain.RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
		return fmt.Errorf("%s status %d: %w", providerID, status, rle)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrUpstreamPermanent, providerID, status, bodySnippet)
	default:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrUpstreamTransient, providerID, status, bodySnippet)
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func outcomeForError(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case domain.IsPermanent(err):
		return observability.OutcomePermanent
	default:
		return observability.OutcomeTransient
	}
}

func snippet(b []byte) string {
	if len(b) > snippetLimit {
		b = b[:snippetLimit]
	}
	return string(b)
}
