package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/pkg/textx"
)

// AsyncService accepts evaluation jobs for background processing: it
// persists a queued record and hands the payload to the worker fleet. The
// payload never carries the caller credential; workers resolve credentials
// from their own configuration.
type AsyncService struct {
	Store domain.EvaluationStore
	Queue domain.Queue
}

// NewAsyncService constructs an AsyncService with its dependencies.
func NewAsyncService(store domain.EvaluationStore, queue domain.Queue) AsyncService {
	return AsyncService{Store: store, Queue: queue}
}

// Enqueue validates inputs, creates a queued record, and enqueues the task.
func (s AsyncService) Enqueue(ctx domain.Context, req domain.EvaluationRequest) (string, error) {
	doc := textx.SanitizeText(req.DocumentText)
	jd := textx.SanitizeText(req.JobDescription)
	if doc == "" {
		return "", fmt.Errorf("%w: document text empty after normalization", domain.ErrInvalidArgument)
	}
	if jd == "" {
		return "", fmt.Errorf("%w: job description empty after normalization", domain.ErrInvalidArgument)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()
	rec := domain.EvaluationRecord{ID: id, Status: domain.EvaluationQueued, CreatedAt: now, UpdatedAt: now}
	if err := s.Store.Create(ctx, rec); err != nil {
		return "", err
	}

	payload := domain.EvaluationTaskPayload{
		ID:             id,
		DocumentText:   doc,
		JobDescription: jd,
		ProviderID:     req.ProviderID,
		ModelID:        req.ModelID,
		Weights:        req.Weights,
	}
	if _, err := s.Queue.EnqueueEvaluation(ctx, payload); err != nil {
		msg := "enqueue failed"
		_ = s.Store.UpdateStatus(ctx, id, domain.EvaluationFailed, &msg)
		return "", err
	}
	observability.EnqueueJob("evaluation")
	slog.Info("evaluation enqueued", slog.String("evaluation_id", id))
	return id, nil
}

// staleAfter marks queued/processing records older than this as failed on
// read, so a crashed worker cannot strand a caller in a polling loop.
const staleAfter = 5 * time.Minute

// ResultService provides read access to evaluation records and assembles
// the API response envelope including ETag logic and error mapping.
type ResultService struct {
	Store domain.EvaluationStore
}

// NewResultService constructs a ResultService with the given store.
func NewResultService(store domain.EvaluationStore) ResultService {
	return ResultService{Store: store}
}

// Fetch returns the HTTP status code, response body, and ETag for the given
// evaluation id. It implements conditional responses (304 Not Modified)
// based on If-None-Match and returns proper shapes for queued, processing,
// and failed states.
func (s ResultService) Fetch(ctx domain.Context, id, ifNoneMatch string) (int, map[string]any, string, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, nil, "", fmt.Errorf("%w: evaluation not found", domain.ErrNotFound)
		}
		return http.StatusInternalServerError, nil, "", err
	}

	if rec.Status != domain.EvaluationCompleted {
		now := time.Now().UTC()
		stale := (rec.Status == domain.EvaluationQueued && now.Sub(rec.CreatedAt) > staleAfter) ||
			(rec.Status == domain.EvaluationProcessing && now.Sub(rec.UpdatedAt) > staleAfter)
		if stale {
			msg := "timeout: evaluation exceeded " + staleAfter.String()
			_ = s.Store.UpdateStatus(ctx, id, domain.EvaluationFailed, &msg)
			rec.Status = domain.EvaluationFailed
			rec.Error = msg
			slog.Warn("evaluation marked stale", slog.String("evaluation_id", id))
		}
		m := map[string]any{"id": id, "status": string(rec.Status)}
		if rec.Status == domain.EvaluationFailed {
			m["error"] = map[string]any{
				"code":    errorCodeFromRecordError(rec.Error),
				"message": rec.Error,
			}
		}
		etag := makeETag(m)
		if etag == ifNoneMatch {
			return http.StatusNotModified, nil, etag, nil
		}
		return http.StatusOK, m, etag, nil
	}

	m := map[string]any{
		"id":     id,
		"status": string(domain.EvaluationCompleted),
		"result": rec.Result,
	}
	etag := makeETag(m)
	if etag == ifNoneMatch {
		return http.StatusNotModified, nil, etag, nil
	}
	return http.StatusOK, m, etag, nil
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// errorCodeFromRecordError maps a stored error message to a stable code.
func errorCodeFromRecordError(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(s, "credential"):
		return "CREDENTIAL_INVALID"
	case strings.Contains(s, "invalid argument"), strings.Contains(s, "empty after normalization"):
		return "INVALID_ARGUMENT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
