// Package httpserver contains the HTTP handlers and middleware for the
// evaluation API: synchronous and batch evaluation, async enqueue, result
// polling, and the provider health surface. HTTP concerns stay here; all
// scoring and provider logic lives behind the usecase layer.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/skillsift/evalengine/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// codeFor maps a domain sentinel to its stable API error code and HTTP
// status. Provider failures never reach this mapping: the orchestrator
// degrades instead of surfacing them.
func codeFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	status, code := codeFor(err)
	if status == http.StatusTooManyRequests {
		if d := domain.RetryAfterHint(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
		}
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}
