package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/domain"
)

const testCred = "valid-credential-0123456789"

func testBase(id, baseURL string, hc *http.Client) base {
	return base{
		cfg: domain.ProviderConfig{
			ID:               id,
			BaseURL:          baseURL,
			DefaultModel:     "test-model",
			Timeout:          2 * time.Second,
			CredentialMinLen: 8,
		},
		hc:       hc,
		prompter: NewPrompter(nil, 0),
	}
}

func testRequest() domain.EvaluationRequest {
	return domain.EvaluationRequest{
		DocumentText:   "Senior Go engineer with Kubernetes experience.",
		JobDescription: "Looking for a Go developer.",
		Credential:     testCred,
	}
}

func TestOpenAICompatInvoke(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer "+testCred, r.Header.Get("Authorization"))

			var body chatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "test-model", body.Model)
			require.Len(t, body.Messages, 2)
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Equal(t, "user", body.Messages[1].Role)
			assert.Contains(t, body.Messages[1].Content, "Looking for a Go developer.")
			assert.Equal(t, maxOutputTokens, body.MaxTokens)

			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"overall_score\":80}"}}]}`))
		}))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		got, err := p.Invoke(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, `{"overall_score":80}`, got)
	})

	t.Run("unauthorized_is_permanent", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		require.Error(t, err)
		assert.True(t, domain.IsPermanent(err))
	})

	t.Run("rate_limited_carries_retry_after", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "11")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
		assert.Equal(t, 11*time.Second, domain.RetryAfterHint(err))
	})

	t.Run("server_error_is_transient", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		require.Error(t, err)
		assert.True(t, domain.IsTransient(err))
	})

	t.Run("empty_choices_is_schema_invalid", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	})

	t.Run("missing_credential_is_rejected_before_network", func(t *testing.T) {
		t.Parallel()
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		defer srv.Close()

		p := &OpenAICompat{base: testBase(IDOpenAI, srv.URL, srv.Client())}
		req := testRequest()
		req.Credential = ""
		_, err := p.Invoke(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrCredentialInvalid)
		assert.False(t, called)
	})

	t.Run("unsupported_model_is_rejected_before_network", func(t *testing.T) {
		t.Parallel()
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		defer srv.Close()

		b := testBase(IDOpenAI, srv.URL, srv.Client())
		b.cfg.SupportedModels = []string{"test-model"}
		p := &OpenAICompat{base: b}
		req := testRequest()
		req.ModelID = "other-model"
		_, err := p.Invoke(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrModelUnsupported)
		assert.False(t, called)
	})

	t.Run("falls_back_to_process_credential", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer env-credential-9876543210", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer srv.Close()

		b := testBase(IDOpenAI, srv.URL, srv.Client())
		b.envCred = "env-credential-9876543210"
		p := &OpenAICompat{base: b}
		req := testRequest()
		req.Credential = ""
		got, err := p.Invoke(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
	})
}

func TestGeminiInvoke(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
			assert.Equal(t, testCred, r.Header.Get("x-goog-api-key"))
			assert.Empty(t, r.URL.Query().Get("key"), "credential must not travel in the URL")

			var body geminiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.NotNil(t, body.SystemInstruction)
			require.Len(t, body.Contents, 1)
			assert.Equal(t, "user", body.Contents[0].Role)
			assert.Equal(t, maxOutputTokens, body.GenerationConfig.MaxOutputTokens)

			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"overall\":"},{"text":"90}"}]}}]}`))
		}))
		defer srv.Close()

		p := &Gemini{base: testBase(IDGemini, srv.URL, srv.Client())}
		got, err := p.Invoke(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, `{"overall":90}`, got, "parts are concatenated")
	})

	t.Run("empty_candidates_is_schema_invalid", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		p := &Gemini{base: testBase(IDGemini, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	})
}

func TestAnthropicInvoke(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, testCred, r.Header.Get("x-api-key"))
			assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
			assert.Empty(t, r.Header.Get("Authorization"))

			var body anthropicRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.NotEmpty(t, body.System)
			require.Len(t, body.Messages, 1)
			assert.Equal(t, "user", body.Messages[0].Role)

			_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"tool_use"},{"type":"text","text":"part two"}]}`))
		}))
		defer srv.Close()

		p := &Anthropic{base: testBase(IDAnthropic, srv.URL, srv.Client())}
		got, err := p.Invoke(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, "part one part two", got, "only text blocks are joined")
	})

	t.Run("no_text_blocks_is_schema_invalid", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"content":[{"type":"tool_use"}]}`))
		}))
		defer srv.Close()

		p := &Anthropic{base: testBase(IDAnthropic, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	})
}

func TestCohereInvoke(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat", r.URL.Path)
			assert.Equal(t, "Bearer "+testCred, r.Header.Get("Authorization"))

			var body cohereRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.NotEmpty(t, body.Preamble)
			assert.Contains(t, body.Message, "CANDIDATE DOCUMENT")

			_, _ = w.Write([]byte(`{"text":"{\"overall_score\":70}"}`))
		}))
		defer srv.Close()

		p := &Cohere{base: testBase(IDCohere, srv.URL, srv.Client())}
		got, err := p.Invoke(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, `{"overall_score":70}`, got)
	})

	t.Run("empty_text_is_schema_invalid", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"text":""}`))
		}))
		defer srv.Close()

		p := &Cohere{base: testBase(IDCohere, srv.URL, srv.Client())}
		_, err := p.Invoke(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	})
}

func TestPrompterBuild(t *testing.T) {
	t.Parallel()
	p := NewPrompter(nil, 0)
	system, user := p.Build("gpt-4o-mini", "doc body here", "jd body here")
	assert.Contains(t, system, "expert HR professional")
	assert.Contains(t, user, "doc body here")
	assert.Contains(t, user, "jd body here")
	assert.Contains(t, user, `"overall_score"`)
	assert.Contains(t, user, `"section_scores"`)
	assert.Contains(t, user, `"missing_skills"`)
}
