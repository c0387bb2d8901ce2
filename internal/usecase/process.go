package usecase

import (
	"errors"
	"log/slog"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
)

// ProcessService executes queued evaluation tasks on the worker side.
type ProcessService struct {
	Eval  EvaluateService
	Store domain.EvaluationStore
}

// NewProcessService constructs a ProcessService.
func NewProcessService(eval EvaluateService, store domain.EvaluationStore) ProcessService {
	return ProcessService{Eval: eval, Store: store}
}

// HandleEvaluationTask runs one queued evaluation to completion. Provider
// trouble degrades inside Evaluate, so only rejected input marks the record
// failed. A returned error is an infrastructure failure the queue should
// redeliver.
func (s ProcessService) HandleEvaluationTask(ctx domain.Context, payload domain.EvaluationTaskPayload) error {
	observability.StartProcessingJob("evaluation")
	slog.Info("processing evaluation", slog.String("evaluation_id", payload.ID))

	if err := s.Store.UpdateStatus(ctx, payload.ID, domain.EvaluationProcessing, nil); err != nil {
		observability.FailJob("evaluation")
		return err
	}

	req := domain.EvaluationRequest{
		RequestID:      payload.ID,
		DocumentText:   payload.DocumentText,
		JobDescription: payload.JobDescription,
		ProviderID:     payload.ProviderID,
		ModelID:        payload.ModelID,
		Weights:        payload.Weights,
	}
	ev, err := s.Eval.Evaluate(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			msg := err.Error()
			_ = s.Store.UpdateStatus(ctx, payload.ID, domain.EvaluationFailed, &msg)
			observability.FailJob("evaluation")
			slog.Warn("evaluation rejected", slog.String("evaluation_id", payload.ID), slog.Any("error", err))
			return nil
		}
		observability.FailJob("evaluation")
		return err
	}

	if err := s.Store.SaveResult(ctx, payload.ID, ev); err != nil {
		observability.FailJob("evaluation")
		return err
	}
	observability.CompleteJob("evaluation")
	slog.Info("evaluation stored",
		slog.String("evaluation_id", payload.ID),
		slog.Int("overall_score", ev.OverallScore),
		slog.Bool("degraded", ev.Degraded))
	return nil
}
