// Command server starts the evaluation engine HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillsift/evalengine/internal/adapter/ai"
	"github.com/skillsift/evalengine/internal/adapter/ai/providers"
	"github.com/skillsift/evalengine/internal/adapter/cache"
	"github.com/skillsift/evalengine/internal/adapter/httpserver"
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
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, provider, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool for async evaluation records.
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	store := postgres.NewEvaluationRepo(pool)

	// Queue client (Redpanda producer). The transactional id must differ from
	// the worker's so the two processes never fence each other.
	producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, "evalengine-server-producer")
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	// Provider adapters share one OTEL-instrumented HTTP client.
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

	// Redis upgrades the result cache and the provider limiter to shared
	// state across replicas; without it both stay in-process.
	var rdb *redis.Client
	var resultCache domain.ResultCache
	var limiter ratelimiter.Limiter
	buckets := ratelimiter.BucketsForProviders(catalog)
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("redis url invalid", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
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

	// Usecases
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
	asyncSvc := usecase.NewAsyncService(store, producer)
	resultSvc := usecase.NewResultService(store)

	// HTTP server with readiness probes against every hard dependency.
	srv := httpserver.NewServer(cfg, evalSvc, asyncSvc, resultSvc, registry)
	srv.DBCheck, srv.RedisCheck, srv.BrokerCheck = app.BuildReadinessChecks(pool, rdb, producer)

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

func loadDictionary(cfg config.Config) (*lexical.Dictionary, error) {
	if cfg.SkillsPath != "" {
		return lexical.LoadDictionary(cfg.SkillsPath)
	}
	return lexical.DefaultDictionary()
}
