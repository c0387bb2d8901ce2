package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/evalengine/internal/domain"
)

func queuedRecord(store *fakeStore, id string) {
	now := time.Now().UTC()
	store.put(domain.EvaluationRecord{ID: id, Status: domain.EvaluationQueued, CreatedAt: now, UpdatedAt: now})
}

func taskPayload(id string) domain.EvaluationTaskPayload {
	return domain.EvaluationTaskPayload{
		ID:             id,
		DocumentText:   "Seven years writing Go services in production.",
		JobDescription: "Looking for a Go engineer with Kubernetes experience.",
	}
}

func TestHandleEvaluationTask(t *testing.T) {
	t.Parallel()

	t.Run("completes_and_stores_result", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		queuedRecord(store, "job-1")
		adapter := &fakeAdapter{id: "gemini"}
		svc := NewProcessService(serviceForTest(t, adapter), store)

		err := svc.HandleEvaluationTask(context.Background(), taskPayload("job-1"))
		require.NoError(t, err)

		rec := store.record(t, "job-1")
		assert.Equal(t, domain.EvaluationCompleted, rec.Status)
		require.NotNil(t, rec.Result)
		assert.Equal(t, 78, rec.Result.OverallScore)
		assert.Equal(t, "gemini", rec.Result.ProviderUsed)
		assert.Equal(t, 1, adapter.callCount())
	})

	t.Run("invalid_input_fails_without_redelivery", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		queuedRecord(store, "job-2")
		adapter := &fakeAdapter{id: "gemini"}
		svc := NewProcessService(serviceForTest(t, adapter), store)

		payload := taskPayload("job-2")
		payload.DocumentText = "   "
		err := svc.HandleEvaluationTask(context.Background(), payload)
		require.NoError(t, err)

		rec := store.record(t, "job-2")
		assert.Equal(t, domain.EvaluationFailed, rec.Status)
		assert.Contains(t, rec.Error, "empty after normalization")
		assert.Equal(t, 0, adapter.callCount())
	})

	t.Run("unknown_record_redelivers", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		svc := NewProcessService(serviceForTest(t, &fakeAdapter{id: "gemini"}), store)

		err := svc.HandleEvaluationTask(context.Background(), taskPayload("job-missing"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("save_failure_redelivers", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		queuedRecord(store, "job-3")
		store.saveErr = errors.New("pg down")
		svc := NewProcessService(serviceForTest(t, &fakeAdapter{id: "gemini"}), store)

		err := svc.HandleEvaluationTask(context.Background(), taskPayload("job-3"))
		require.Error(t, err)
		assert.Equal(t, domain.EvaluationProcessing, store.record(t, "job-3").Status)
	})

	t.Run("degraded_result_still_completes", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		queuedRecord(store, "job-4")
		adapter := &fakeAdapter{id: "gemini", fn: func(int, domain.EvaluationRequest) (string, error) {
			return "", fmt.Errorf("invoke gemini: status 503: %w", domain.ErrUpstreamTransient)
		}}
		svc := NewProcessService(serviceForTest(t, adapter), store)

		err := svc.HandleEvaluationTask(context.Background(), taskPayload("job-4"))
		require.NoError(t, err)

		rec := store.record(t, "job-4")
		assert.Equal(t, domain.EvaluationCompleted, rec.Status)
		require.NotNil(t, rec.Result)
		assert.True(t, rec.Result.Degraded)
		assert.True(t, rec.Result.FallbackChainExhausted)
	})

	t.Run("provider_and_weights_carried_from_payload", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		queuedRecord(store, "job-5")
		gemini := &fakeAdapter{id: "gemini"}
		openai := &fakeAdapter{id: "openai"}
		svc := NewProcessService(serviceForTest(t, gemini, openai), store)

		payload := taskPayload("job-5")
		payload.ProviderID = "openai"
		payload.Weights = &domain.Weights{Semantic: 0.5, Lexical: 0.5}
		err := svc.HandleEvaluationTask(context.Background(), payload)
		require.NoError(t, err)

		rec := store.record(t, "job-5")
		require.NotNil(t, rec.Result)
		assert.Equal(t, "openai", rec.Result.ProviderUsed)
		assert.Equal(t, 70, rec.Result.OverallScore)
		assert.Equal(t, 0, gemini.callCount())
	})
}
