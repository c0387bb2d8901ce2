// Command worker consumes queued evaluation tasks from Redpanda, runs the
// evaluation orchestrator, and stores the results.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skillsift/evalengine/internal/adapter/ai"
	"github.com/skillsift/evalengine/internal/adapter/ai/providers"
	"github.com/skillsift/evalengine/internal/adapter/cache"
	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/adapter/queue/redpanda"
	"github.com/skillsift/evalengine/internal/adapter/repo/postgres"
	"github.com/skillsift/evalengine/internal/app"
	"github.com/skillsift/evalengine/internal/config"
	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/internal/service/lexical"
	"github.com/skillsift/evalengine/internal/service/ratelimiter"
	"github.com/skillsift/evalengine/internal/service/scoring"
	"github.com/skillsift/evalengine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint so job-queue instrumentation is scrapable.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker owns the schema; the server only reads and writes records.
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	store := postgres.NewEvaluationRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanup := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("retention sweeper started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	// Provider adapters share one OTEL-instrumented HTTP client. Credentials
	// come from this process's environment; queued payloads never carry them.
	adapters, catalog, err := providers.New(cfg, providers.NewHTTPClient(cfg.AITimeout))
	if err != nil {
		slog.Error("provider setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := ai.NewRegistry(adapters, catalog, cfg.ProviderPriority)
	if err != nil {
		slog.Error("provider registry setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	var resultCache domain.ResultCache
	var limiter ratelimiter.Limiter
	buckets := ratelimiter.BucketsForProviders(catalog)
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("redis url invalid", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		resultCache = cache.NewRedis(rdb, cfg.CacheTTL)
		limiter = ratelimiter.NewRedisLimiter(rdb, buckets)
	} else {
		resultCache = cache.NewMemory(cfg.CacheMaxEntries)
		limiter = ratelimiter.NewLocalLimiter(buckets)
	}

	dict, err := loadDictionary(cfg)
	if err != nil {
		slog.Error("skill dictionary load failed", slog.Any("error", err))
		os.Exit(1)
	}

	initial, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	evalSvc := usecase.NewEvaluateService(
		registry,
		resultCache,
		limiter,
		lexical.NewMatcher(dict),
		scoring.NewScorer(domain.Weights{Semantic: cfg.WeightSemantic, Lexical: cfg.WeightLexical}),
		ai.NewResponseValidator(),
		ai.NewRefusalDetector(),
		usecase.EvaluateOptions{
			EvalTimeout: cfg.EvalTimeout,
			Retry: domain.RetryConfig{
				MaxAttempts:  cfg.AIMaxAttempts,
				InitialDelay: initial,
				MaxDelay:     maxInterval,
				Multiplier:   multiplier,
				Jitter:       true,
			},
		},
	)
	process := usecase.NewProcessService(evalSvc, store)

	// A crashed worker leaves records stuck in processing; the stale sweeper
	// moves them to failed so callers stop polling. The cutoff sits above the
	// evaluation timeout so live runs are never swept.
	go app.NewStaleSweeper(store, cfg.EvalTimeout+time.Minute, 0).Run(ctx)

	consumer, err := redpanda.NewConsumer(
		ctx,
		cfg.KafkaBrokers,
		"evalengine-workers",
		"evalengine-consumer",
		cfg.WorkerConcurrency,
		process.HandleEvaluationTask,
	)
	if err != nil {
		slog.Error("redpanda consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	slog.Info("starting redpanda consumer",
		slog.String("topic", redpanda.TopicEvaluations),
		slog.Int("workers", cfg.WorkerConcurrency))
	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	stop()
	slog.Info("worker stopped")
}

func loadDictionary(cfg config.Config) (*lexical.Dictionary, error) {
	if cfg.SkillsPath != "" {
		return lexical.LoadDictionary(cfg.SkillsPath)
	}
	return lexical.DefaultDictionary()
}
