package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Provider call outcomes used as metric label values.
const (
	OutcomeSuccess       = "success"
	OutcomeTransient     = "transient_error"
	OutcomePermanent     = "permanent_error"
	OutcomeSchemaInvalid = "schema_invalid"
)

// Validator outcomes used as metric label values.
const (
	RepairStrict   = "strict"
	RepairRepaired = "repaired"
	RepairFailed   = "failed"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of AI provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "AI provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
	ProviderFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_fallbacks_total",
			Help: "Total number of fallbacks to an alternate provider",
		},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluations_total",
			Help: "Total number of completed evaluations by mode",
		},
		[]string{"mode"}, // ai | degraded | cache_hit
	)
	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_duration_seconds",
			Help:    "End-to-end evaluation duration in seconds",
			Buckets: []float64{0.05, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	OverallScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_overall_score",
			Help:    "Distribution of final overall scores [0,100]",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	CoverageRatioHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_lexical_coverage_ratio",
			Help:    "Distribution of lexical coverage ratios [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgment_repairs_total",
			Help: "Validator outcomes by parse path (strict, repaired, failed)",
		},
		[]string{"outcome"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(ProviderRequestsTotal)
		prometheus.MustRegister(ProviderRequestDuration)
		prometheus.MustRegister(ProviderFallbacksTotal)
		prometheus.MustRegister(EvaluationsTotal)
		prometheus.MustRegister(EvaluationDuration)
		prometheus.MustRegister(OverallScoreHistogram)
		prometheus.MustRegister(CoverageRatioHistogram)
		prometheus.MustRegister(CacheHitsTotal)
		prometheus.MustRegister(CacheMissesTotal)
		prometheus.MustRegister(RepairsTotal)
		prometheus.MustRegister(JobsEnqueuedTotal)
		prometheus.MustRegister(JobsProcessing)
		prometheus.MustRegister(JobsCompletedTotal)
		prometheus.MustRegister(JobsFailedTotal)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveProviderCall records one provider invocation.
func ObserveProviderCall(provider, outcome string, seconds float64) {
	ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordFallback counts a switch to an alternate provider.
func RecordFallback() {
	ProviderFallbacksTotal.Inc()
}

// RecordRepair counts a validator outcome: strict, repaired, or failed.
func RecordRepair(outcome string) {
	RepairsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a result cache hit.
func RecordCacheHit() { CacheHitsTotal.Inc() }

// RecordCacheMiss counts a result cache miss.
func RecordCacheMiss() { CacheMissesTotal.Inc() }

// ObserveEvaluation records the outcome of one completed evaluation.
func ObserveEvaluation(mode string, overallScore int, coverageRatio float64, seconds float64) {
	EvaluationsTotal.WithLabelValues(mode).Inc()
	EvaluationDuration.Observe(seconds)
	if overallScore >= 0 && overallScore <= 100 {
		OverallScoreHistogram.Observe(float64(overallScore))
	}
	if coverageRatio >= 0 && coverageRatio <= 1 {
		CoverageRatioHistogram.Observe(coverageRatio)
	}
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}
