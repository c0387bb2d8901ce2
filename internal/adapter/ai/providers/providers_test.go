package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/config"
	"github.com/skillsift/evalengine/internal/domain"
)

func TestCheckCredentialShape(t *testing.T) {
	t.Parallel()
	cfg := domain.ProviderConfig{ID: "openai", CredentialPrefix: "sk-", CredentialMinLen: 20}

	tests := []struct {
		name string
		cred string
		ok   bool
	}{
		{name: "valid", cred: "sk-0123456789abcdef0123", ok: true},
		{name: "empty", cred: "", ok: false},
		{name: "too_short", cred: "sk-short", ok: false},
		{name: "wrong_prefix", cred: "pk-0123456789abcdef0123", ok: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckCredentialShape(cfg, tc.cred)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
			assert.True(t, domain.IsPermanent(err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	t.Run("unauthorized_is_permanent", func(t *testing.T) {
		t.Parallel()
		err := classifyStatus("openai", http.StatusUnauthorized, http.Header{}, "bad key")
		assert.ErrorIs(t, err, domain.ErrUpstreamPermanent)
		assert.True(t, domain.IsPermanent(err))
	})
	t.Run("not_found_is_permanent", func(t *testing.T) {
		t.Parallel()
		err := classifyStatus("openai", http.StatusNotFound, http.Header{}, "")
		assert.True(t, domain.IsPermanent(err))
	})
	t.Run("request_timeout_is_transient", func(t *testing.T) {
		t.Parallel()
		err := classifyStatus("openai", http.StatusRequestTimeout, http.Header{}, "")
		assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
		assert.True(t, domain.IsTransient(err))
	})
	t.Run("rate_limit_carries_retry_after", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set("Retry-After", "7")
		err := classifyStatus("gemini", http.StatusTooManyRequests, h, "")
		assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
		assert.True(t, domain.IsTransient(err))
		assert.Equal(t, 7*time.Second, domain.RetryAfterHint(err))
	})
	t.Run("rate_limit_without_header", func(t *testing.T) {
		t.Parallel()
		err := classifyStatus("gemini", http.StatusTooManyRequests, http.Header{}, "")
		assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
		assert.Zero(t, domain.RetryAfterHint(err))
	})
	t.Run("server_error_is_transient", func(t *testing.T) {
		t.Parallel()
		err := classifyStatus("cohere", http.StatusInternalServerError, http.Header{}, "boom")
		assert.ErrorIs(t, err, domain.ErrUpstreamTransient)
		assert.True(t, domain.IsTransient(err))
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 80*time.Second)
	assert.LessOrEqual(t, got, 91*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		OpenAIBaseURL:     "https://api.openai.com/v1/",
		GeminiBaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		AnthropicBaseURL:  "https://api.anthropic.com",
		CohereBaseURL:     "https://api.cohere.ai",
		XAIBaseURL:        "https://api.x.ai/v1",
		MistralBaseURL:    "https://api.mistral.ai/v1",
		PerplexityBaseURL: "https://api.perplexity.ai",
		TogetherBaseURL:   "https://api.together.xyz/v1",
		OpenAIModel:       "gpt-4o-mini",
		GeminiModel:       "gemini-1.5-flash",
		OpenAIAPIKey:      "sk-0123456789abcdef0123",
		AITimeout:         30 * time.Second,
		AIMaxAttempts:     3,
	}
	catalog := Catalog(cfg)
	require.Len(t, catalog, 8)

	byID := map[string]domain.ProviderConfig{}
	for _, pc := range catalog {
		byID[pc.ID] = pc
	}
	assert.Equal(t, "https://api.openai.com/v1", byID[IDOpenAI].BaseURL, "trailing slash trimmed")
	assert.True(t, byID[IDOpenAI].Configured)
	assert.False(t, byID[IDGemini].Configured)
	assert.Equal(t, "gemini-1.5-flash", byID[IDGemini].DefaultModel)
	assert.Equal(t, "sk-ant-", byID[IDAnthropic].CredentialPrefix)
	assert.Equal(t, 3, byID[IDCohere].MaxAttempts)
}

func TestNewBuildsAllFamilies(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		OpenAIBaseURL: "http://x", GeminiBaseURL: "http://x", AnthropicBaseURL: "http://x",
		CohereBaseURL: "http://x", XAIBaseURL: "http://x", MistralBaseURL: "http://x",
		PerplexityBaseURL: "http://x", TogetherBaseURL: "http://x",
	}
	adapters, catalog, err := New(cfg, http.DefaultClient)
	require.NoError(t, err)
	require.Len(t, adapters, 8)
	require.Len(t, catalog, 8)

	kinds := map[string]domain.ProviderAdapter{}
	for _, a := range adapters {
		kinds[a.ID()] = a
	}
	assert.IsType(t, &OpenAICompat{}, kinds[IDOpenAI])
	assert.IsType(t, &OpenAICompat{}, kinds[IDMistral])
	assert.IsType(t, &Gemini{}, kinds[IDGemini])
	assert.IsType(t, &Anthropic{}, kinds[IDAnthropic])
	assert.IsType(t, &Cohere{}, kinds[IDCohere])
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	t.Run("cancellation_passes_through", func(t *testing.T) {
		t.Parallel()
		err := classifyTransportError("openai", fmt.Errorf("do: %w", context.Canceled))
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, domain.IsTransient(err))
		assert.False(t, domain.IsPermanent(err))
	})
	t.Run("deadline_is_timeout", func(t *testing.T) {
		t.Parallel()
		err := classifyTransportError("openai", fmt.Errorf("do: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
		assert.True(t, domain.IsTransient(err))
	})
	t.Run("connection_refused_is_transient", func(t *testing.T) {
		t.Parallel()
		err := classifyTransportError("openai", errors.New("dial tcp: connection refused"))
		assert.ErrorIs(t, err, domain.ErrUpstreamTransient)
	})
}
