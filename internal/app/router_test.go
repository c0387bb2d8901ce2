package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/adapter/httpserver"
	"github.com/skillsift/evalengine/internal/config"
	"github.com/skillsift/evalengine/internal/usecase"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{
		HTTPWriteTimeout: 5 * time.Second,
		RateLimitPerMin:  100,
		CORSAllowOrigins: "*",
	}
	srv := httpserver.NewServer(cfg, usecase.EvaluateService{}, usecase.AsyncService{}, usecase.ResultService{}, nil)
	return BuildRouter(cfg, srv)
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty_allows_all", "", []string{"*"}},
		{"star_passes_through", "*", []string{"*"}},
		{"splits_and_trims", " https://a.example , https://b.example ", []string{"https://a.example", "https://b.example"}},
		{"drops_empty_entries", "https://a.example,,", []string{"https://a.example"}},
		{"only_commas_allows_all", ",,", []string{"*"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseOrigins(tc.in))
		})
	}
}

func TestBuildRouter(t *testing.T) {
	t.Parallel()

	t.Run("serves_healthz", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("serves_readyz_with_no_probes", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("serves_metrics", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Body.String())
	})

	t.Run("unknown_route_is_404", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("sets_security_and_request_id_headers", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Len(t, rec.Header().Get("X-Request-Id"), 26)
	})
}
