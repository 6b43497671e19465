package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rageval_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	StageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rageval_stage_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rageval_llm_requests_total",
			Help: "Total LLM requests issued",
		},
		[]string{"stage", "model"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rageval_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"stage", "model", "type"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rageval_documents_processed_total",
			Help: "Total documents extracted and indexed",
		},
	)

	ParagraphsExtracted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rageval_paragraphs_extracted",
			Help:    "Number of paragraphs extracted per document",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
		},
	)

	JudgeExclusions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rageval_judge_excluded_pairs_total",
			Help: "Total sub-question pairs excluded from metrics",
		},
	)

	ForcedAnswers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rageval_forced_answers_total",
			Help: "Total RAG answers forced by the iteration bound",
		},
	)
)

func Init() {
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageTotal)
	prometheus.MustRegister(LLMRequests)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(ParagraphsExtracted)
	prometheus.MustRegister(JudgeExclusions)
	prometheus.MustRegister(ForcedAnswers)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
