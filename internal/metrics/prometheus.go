package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learnlens_pipeline_duration_seconds",
			Help:    "Report pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnlens_reports_total",
			Help: "Total pipeline runs by response source",
		},
		[]string{"response_source"},
	)

	EvidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "learnlens_evidence_quality_score",
			Help:    "Evidence quality scores per pipeline run",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RetrievalAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "learnlens_retrieval_attempts",
			Help:    "Retrieval attempts used per pipeline run",
			Buckets: []float64{1, 2, 3, 4},
		},
	)

	GuardrailBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnlens_guardrail_blocks_total",
			Help: "Requests blocked by guardrails",
		},
		[]string{"reason"},
	)

	CooldownRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learnlens_cooldown_rejections_total",
			Help: "Report requests rejected by the cooldown",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnlens_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	AttemptsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learnlens_attempts_ingested_total",
			Help: "Attempt records materialized into the graph",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnlens_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnlens_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(EvidenceScore)
	prometheus.MustRegister(RetrievalAttempts)
	prometheus.MustRegister(GuardrailBlocks)
	prometheus.MustRegister(CooldownRejections)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(AttemptsIngested)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
