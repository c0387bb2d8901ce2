// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/skillsift/evalengine/internal/adapter/cache"
	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/internal/service/lexical"
	"github.com/skillsift/evalengine/internal/service/ratelimiter"
	"github.com/skillsift/evalengine/internal/service/scoring"
	"github.com/skillsift/evalengine/pkg/textx"
)

// Validator normalizes raw provider output into a canonical judgment.
// Failures wrap domain.ErrSchemaInvalid.
type Validator interface {
	Validate(raw string) (*domain.CanonicalAIJudgment, error)
}

// RefusalDetector flags assistant replies that decline instead of judging.
type RefusalDetector interface {
	IsRefusal(response string) bool
}

// EvaluateOptions bounds one evaluation run.
type EvaluateOptions struct {
	// EvalTimeout caps the whole AI attempt cycle including retries and
	// fallback; on expiry the orchestrator degrades instead of waiting.
	EvalTimeout time.Duration
	Retry       domain.RetryConfig
}

// EvaluateService is the evaluation orchestrator. It checks the result
// cache, runs the lexical match and the AI attempt cycle concurrently, and
// blends both signals into the final Evaluation. Every request yields a
// usable result: when all providers fail the evaluation degrades to the
// lexical signal rather than erroring.
type EvaluateService struct {
	Registry  domain.ProviderRegistry
	Cache     domain.ResultCache
	Limiter   ratelimiter.Limiter
	Matcher   *lexical.Matcher
	Scorer    *scoring.Scorer
	Validator Validator
	Refusals  RefusalDetector
	Opts      EvaluateOptions
}

// NewEvaluateService constructs an EvaluateService with its dependencies.
func NewEvaluateService(
	reg domain.ProviderRegistry,
	rc domain.ResultCache,
	lim ratelimiter.Limiter,
	m *lexical.Matcher,
	sc *scoring.Scorer,
	v Validator,
	rd RefusalDetector,
	opts EvaluateOptions,
) EvaluateService {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 90 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = domain.DefaultRetryConfig()
	}
	return EvaluateService{
		Registry:  reg,
		Cache:     rc,
		Limiter:   lim,
		Matcher:   m,
		Scorer:    sc,
		Validator: v,
		Refusals:  rd,
		Opts:      opts,
	}
}

// Evaluate runs one evaluation end to end. It returns an error only for
// rejected input (wrapping domain.ErrInvalidArgument) or caller
// cancellation; provider trouble degrades the result instead.
func (s EvaluateService) Evaluate(ctx domain.Context, req domain.EvaluationRequest) (domain.Evaluation, error) {
	start := time.Now()

	doc := textx.SanitizeText(req.DocumentText)
	jd := textx.SanitizeText(req.JobDescription)
	if doc == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: document text empty after normalization", domain.ErrInvalidArgument)
	}
	if jd == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: job description empty after normalization", domain.ErrInvalidArgument)
	}
	req.DocumentText = doc
	req.JobDescription = jd

	weights, err := s.Scorer.ResolveWeights(req.Weights)
	if err != nil {
		return domain.Evaluation{}, err
	}

	key := cache.Key(doc, jd, req.ProviderID, req.ModelID, weights)
	if cached, ok, cerr := s.Cache.Get(ctx, key); cerr != nil {
		slog.Warn("result cache read failed", slog.Any("error", cerr))
	} else if ok {
		slog.Debug("result cache hit", slog.String("request_id", req.RequestID))
		return cached, nil
	}

	// The lexical match never suspends and runs concurrently with the AI
	// attempt cycle; scoring waits on both.
	lexCh := make(chan domain.LexicalMatchResult, 1)
	go func() {
		lexCh <- s.Matcher.Match(doc, jd)
	}()

	aiCtx, cancel := context.WithTimeout(ctx, s.Opts.EvalTimeout)
	defer cancel()
	judgment, providerUsed, modelUsed, err := s.aiJudgment(aiCtx, req)
	if err != nil {
		return domain.Evaluation{}, err
	}

	lex := <-lexCh

	ev := s.Scorer.Combine(judgment, lex, weights)
	ev.ID = ulid.Make().String()
	ev.ProviderUsed = providerUsed
	ev.ModelUsed = modelUsed
	ev.FallbackChainExhausted = judgment == nil
	ev.CreatedAt = time.Now().UTC()

	// Degraded results stay out of the cache so the next identical request
	// gets a fresh shot at a real judgment.
	if !ev.Degraded {
		if cerr := s.Cache.Set(ctx, key, *ev); cerr != nil {
			slog.Warn("result cache write failed", slog.Any("error", cerr))
		}
	}

	mode := "normal"
	if ev.Degraded {
		mode = "degraded"
	}
	observability.ObserveEvaluation(mode, ev.OverallScore, lex.CoverageRatio, time.Since(start).Seconds())
	slog.Info("evaluation completed",
		slog.String("request_id", req.RequestID),
		slog.String("evaluation_id", ev.ID),
		slog.String("provider", providerUsed),
		slog.Int("overall_score", ev.OverallScore),
		slog.Bool("degraded", ev.Degraded),
		slog.Duration("elapsed", time.Since(start)))
	return *ev, nil
}

// aiJudgment drives the provider attempt cycle: select, rate-limit wait,
// invoke with per-provider retry, validate. Permanent and validation
// failures exclude the provider and move down the chain. A nil judgment
// with nil error means the chain is exhausted and the caller degrades.
func (s EvaluateService) aiJudgment(ctx domain.Context, req domain.EvaluationRequest) (*domain.CanonicalAIJudgment, string, string, error) {
	excluded := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, "", "", err
			}
			slog.Warn("evaluation budget exhausted, degrading", slog.String("request_id", req.RequestID))
			return nil, "", "", nil
		}

		adapter, pc, err := s.Registry.Select(req.ProviderID, excluded)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				return nil, "", "", err
			}
			slog.Warn("provider chain exhausted, degrading",
				slog.String("request_id", req.RequestID),
				slog.Int("excluded", len(excluded)))
			return nil, "", "", nil
		}

		if err := ratelimiter.Wait(ctx, s.Limiter, adapter.ID()); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, "", "", err
			}
			slog.Warn("rate limiter wait expired, degrading", slog.String("provider", adapter.ID()))
			return nil, "", "", nil
		}

		raw, err := s.invokeWithRetry(ctx, adapter, pc, req)
		if err != nil {
			s.Registry.MarkFailure(adapter.ID(), err)
			if errors.Is(err, context.Canceled) {
				return nil, "", "", err
			}
			excluded[adapter.ID()] = true
			slog.Warn("provider failed, excluding",
				slog.String("provider", adapter.ID()),
				slog.Bool("permanent", domain.IsPermanent(err)),
				slog.Any("error", err))
			continue
		}

		judgment, verr := s.validate(raw)
		if verr != nil {
			s.Registry.MarkFailure(adapter.ID(), verr)
			excluded[adapter.ID()] = true
			slog.Warn("provider output rejected, excluding",
				slog.String("provider", adapter.ID()),
				slog.Any("error", verr))
			continue
		}

		s.Registry.MarkSuccess(adapter.ID())
		model := req.ModelID
		if model == "" {
			model = pc.DefaultModel
		}
		return judgment, adapter.ID(), model, nil
	}
}

// invokeWithRetry retries one provider on transient failures with
// exponential backoff. Permanent failures stop immediately; the context
// bounds total wall clock.
func (s EvaluateService) invokeWithRetry(ctx domain.Context, adapter domain.ProviderAdapter, pc domain.ProviderConfig, req domain.EvaluationRequest) (string, error) {
	maxAttempts := pc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.Opts.Retry.MaxAttempts
	}

	var raw string
	op := func() error {
		out, err := adapter.Invoke(ctx, req)
		if err != nil {
			if domain.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = out
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.Opts.Retry.InitialDelay
	expo.MaxInterval = s.Opts.Retry.MaxDelay
	expo.Multiplier = s.Opts.Retry.Multiplier
	expo.MaxElapsedTime = 0
	if !s.Opts.Retry.Jitter {
		expo.RandomizationFactor = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return raw, nil
}

func (s EvaluateService) validate(raw string) (*domain.CanonicalAIJudgment, error) {
	if s.Refusals != nil && s.Refusals.IsRefusal(raw) {
		return nil, fmt.Errorf("%w: provider refused to evaluate", domain.ErrSchemaInvalid)
	}
	return s.Validator.Validate(raw)
}

// BatchResult pairs one batch entry with its outcome, in submission order.
type BatchResult struct {
	RequestID  string
	Evaluation domain.Evaluation
	Err        error
}

// EvaluateBatch fans the requests out over a bounded worker pool. Results
// come back in submission order; per-item failures are carried in the slice
// rather than failing the whole batch.
func (s EvaluateService) EvaluateBatch(ctx domain.Context, reqs []domain.EvaluationRequest, maxWorkers int) []BatchResult {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	results := make([]BatchResult, len(reqs))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = BatchResult{RequestID: reqs[i].RequestID, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			ev, err := s.Evaluate(ctx, reqs[i])
			results[i] = BatchResult{RequestID: reqs[i].RequestID, Evaluation: ev, Err: err}
		}(i)
	}
	wg.Wait()
	return results
}
