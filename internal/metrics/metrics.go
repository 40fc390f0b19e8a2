package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_runs_started_total",
			Help: "Total number of workflow runs started",
		},
		[]string{"pack"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_runs_completed_total",
			Help: "Total number of workflow runs finished, by terminal status",
		},
		[]string{"pack", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgs_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pack"},
	)

	RunTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cgs_run_tokens",
			Help:    "Tokens used per completed run",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cgs_run_cost_usd",
			Help:    "Cost in USD per completed run",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	// Step metrics
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgs_step_duration_ms",
			Help:    "Agent step duration in milliseconds",
			Buckets: []float64{500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"provider"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_llm_requests_total",
			Help: "Total LLM generation requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_llm_tokens_total",
			Help: "LLM tokens by direction",
		},
		[]string{"provider", "model", "direction"},
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_llm_cost_usd_total",
			Help: "Accumulated LLM cost in USD",
		},
		[]string{"provider", "model"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgs_llm_latency_seconds",
			Help:    "LLM generation latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		},
		[]string{"provider"},
	)

	// PricingFallbacks counts cost computations for models missing from the table.
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_pricing_fallback_total",
			Help: "Cost computations that used the provider fallback tier",
		},
		[]string{"provider", "model"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_tool_calls_total",
			Help: "Tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	// Archive metrics
	ArchiveQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_archive_queries_total",
			Help: "Archive retrievals by kind and the scope that produced the result",
		},
		[]string{"kind", "scope"},
	)

	ArchiveReviews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_archive_reviews_total",
			Help: "Archive review decisions",
		},
		[]string{"status"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cgs_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cgs_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cgs_stream_subscribers",
			Help: "Open run event subscriptions",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cgs_stream_events_dropped_total",
			Help: "Events dropped because a subscriber was too slow",
		},
	)
)

// RecordRunMetrics records a finished run.
func RecordRunMetrics(pack, status string, durationSeconds float64, tokens int, costUSD float64) {
	RunsCompleted.WithLabelValues(pack, status).Inc()
	RunDuration.WithLabelValues(pack).Observe(durationSeconds)
	if tokens > 0 {
		RunTokens.Observe(float64(tokens))
	}
	if costUSD > 0 {
		RunCostUSD.Observe(costUSD)
	}
}

// RecordLLMMetrics records one generation call.
func RecordLLMMetrics(provider, model, status string, latencySeconds float64, tokensIn, tokensOut int, costUSD float64) {
	LLMRequests.WithLabelValues(provider, model, status).Inc()
	LLMLatency.WithLabelValues(provider).Observe(latencySeconds)
	if tokensIn > 0 {
		LLMTokens.WithLabelValues(provider, model, "input").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokens.WithLabelValues(provider, model, "output").Add(float64(tokensOut))
	}
	if costUSD > 0 {
		LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
