package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/skillsift/evalengine/internal/config"
	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/internal/usecase"
)

// credentialHeader optionally carries a caller-supplied provider credential.
// It is forwarded in memory to the provider adapter and never logged,
// persisted, or enqueued.
const credentialHeader = "X-Provider-Credential"

// Server aggregates handler dependencies. Check funcs are optional probes
// wired by the app for readiness reporting.
type Server struct {
	Cfg      config.Config
	Evaluate usecase.EvaluateService
	Async    usecase.AsyncService
	Results  usecase.ResultService
	Registry domain.ProviderRegistry

	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, eval usecase.EvaluateService, async usecase.AsyncService, results usecase.ResultService, registry domain.ProviderRegistry) *Server {
	return &Server{Cfg: cfg, Evaluate: eval, Async: async, Results: results, Registry: registry}
}

// acceptsJSON rejects requests that explicitly refuse JSON responses.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

// EvaluateHandler runs one synchronous evaluation.
func (s *Server) EvaluateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req evaluateRequest
		if details, err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}

		ev, err := s.Evaluate.Evaluate(r.Context(), domain.EvaluationRequest{
			DocumentText:   req.DocumentText,
			JobDescription: req.JobDescriptionText,
			ProviderID:     req.Provider,
			ModelID:        req.Model,
			Credential:     r.Header.Get(credentialHeader),
			Weights:        req.Weights.toDomain(),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// BatchEvaluateHandler fans a batch of documents against one job description
// out over the evaluation worker pool. Per-item failures come back inside
// the result list; the batch itself only fails on invalid input.
func (s *Server) BatchEvaluateHandler() http.HandlerFunc {
	type itemResult struct {
		RequestID  string             `json:"request_id"`
		Evaluation *domain.Evaluation `json:"evaluation,omitempty"`
		Error      *apiError          `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 16<<20)

		var req batchRequest
		if details, err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if len(req.Items) > s.Cfg.BatchMaxItems {
			writeError(w, r,
				fmt.Errorf("%w: batch exceeds %d items", domain.ErrInvalidArgument, s.Cfg.BatchMaxItems),
				map[string]any{"max_items": s.Cfg.BatchMaxItems, "items": len(req.Items)})
			return
		}

		credential := r.Header.Get(credentialHeader)
		reqs := make([]domain.EvaluationRequest, len(req.Items))
		for i, item := range req.Items {
			requestID := item.RequestID
			if requestID == "" {
				requestID = ulid.Make().String()
			}
			reqs[i] = domain.EvaluationRequest{
				RequestID:      requestID,
				DocumentText:   item.DocumentText,
				JobDescription: req.JobDescriptionText,
				ProviderID:     req.Provider,
				ModelID:        req.Model,
				Credential:     credential,
				Weights:        req.Weights.toDomain(),
			}
		}

		results := s.Evaluate.EvaluateBatch(r.Context(), reqs, s.Cfg.BatchMaxWorkers)
		out := make([]itemResult, len(results))
		for i, res := range results {
			out[i] = itemResult{RequestID: res.RequestID}
			if res.Err != nil {
				_, code := codeFor(res.Err)
				out[i].Error = &apiError{Code: code, Message: res.Err.Error()}
				continue
			}
			ev := res.Evaluation
			out[i].Evaluation = &ev
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"submission_id": uuid.NewString(),
			"results":       out,
		})
	}
}

// QueueEvaluateHandler accepts an evaluation for background processing.
func (s *Server) QueueEvaluateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req evaluateRequest
		if details, err := decodeValid(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}

		id, err := s.Async.Enqueue(r.Context(), domain.EvaluationRequest{
			DocumentText:   req.DocumentText,
			JobDescription: req.JobDescriptionText,
			ProviderID:     req.Provider,
			ModelID:        req.Model,
			Weights:        req.Weights.toDomain(),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.EvaluationQueued)})
	}
}

// ResultHandler reports async evaluation status and, once completed, the
// evaluation itself, with ETag-based conditional responses.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}

		status, body, etag, err := s.Results.Fetch(r.Context(), id, r.Header.Get("If-None-Match"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("ETag", etag)
		if status == http.StatusNotModified {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, body)
	}
}

// ProvidersHandler exposes the registry health surface.
func (s *Server) ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": s.Registry.Health()})
	}
}

// HealthzHandler reports process liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the wired dependencies and reports 503 when any of
// them is unavailable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		probes := []struct {
			name string
			fn   func(ctx context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"broker", s.BrokerCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: p.name, OK: true})
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}
