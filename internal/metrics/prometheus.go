package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NLQLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_nlq_latency_ms",
			Help:    "NLQ end-to-end latency in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 8000, 15000},
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_nlq_confidence",
			Help:    "Confidence of returned NLQ answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	TokensUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_nlq_tokens_used",
			Help:    "Tokens consumed per NLQ answer",
			Buckets: []float64{0, 50, 100, 250, 500, 1000, 2000},
		},
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_api_latency_ms",
			Help:    "HTTP handler latency in milliseconds",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 5000, 10000},
		},
		[]string{"route"},
	)

	DBQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_db_query_ms",
			Help:    "View read latency in milliseconds",
			Buckets: []float64{1, 5, 25, 100, 250, 1000, 5000},
		},
	)

	Observations = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "scout_observations",
			Help:       "Values recorded under names without a dedicated collector",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
		},
		[]string{"metric"},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_events_total",
			Help: "Counted NLQ and API events by name",
		},
		[]string{"event"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scout_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	InsightCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_insight_cache_entries",
			Help: "Live insights currently cached",
		},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(NLQLatency)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(TokensUsed)
		prometheus.MustRegister(APILatency)
		prometheus.MustRegister(DBQueryDuration)
		prometheus.MustRegister(Observations)
		prometheus.MustRegister(Events)
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(InsightCacheSize)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// PrometheusSink forwards sink calls to the collectors above.
type PrometheusSink struct{}

func (PrometheusSink) RecordMetric(name string, value float64) {
	switch name {
	case NLQLatencyMS:
		NLQLatency.Observe(value)
	case NLQConfidence:
		ConfidenceScore.Observe(value)
	case NLQTokensUsed:
		TokensUsed.Observe(value)
	case DBQueryMS:
		DBQueryDuration.Observe(value)
	default:
		Observations.WithLabelValues(name).Observe(value)
	}
}

func (PrometheusSink) IncrementCounter(name string) {
	Events.WithLabelValues(name).Inc()
}
