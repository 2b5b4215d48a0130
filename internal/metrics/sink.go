package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	APILatencyMS     = "api_latency_ms"
	DBQueryMS        = "db_query_ms"
	NLQLatencyMS     = "nlq_latency_ms"
	NLQTokensUsed    = "nlq_tokens_used"
	NLQConfidence    = "nlq_confidence"
	APIRequestsTotal = "api_requests_total"
	APIErrorsTotal   = "api_errors_total"
	NLQCacheHits     = "nlq_cache_hits"
	NLQCacheMisses   = "nlq_cache_misses"
	NLQFallbacks     = "nlq_fallbacks"
	NLQTimeouts      = "nlq_timeouts"
	NLQRateLimited   = "nlq_rate_limited"
	NLQBudgetDenied  = "nlq_budget_denied"
	NLQRetries       = "nlq_retries"

	InsightRefreshFailures = "nlq_insight_refresh_failures"
)

// Sink receives named observations and counter increments.
type Sink interface {
	RecordMetric(name string, value float64)
	IncrementCounter(name string)
}

type nopSink struct{}

func (nopSink) RecordMetric(string, float64) {}
func (nopSink) IncrementCounter(string)      {}

func Nop() Sink { return nopSink{} }

type tee []Sink

// Tee fans every call out to all sinks in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) RecordMetric(name string, value float64) {
	for _, s := range t {
		s.RecordMetric(name, value)
	}
}

func (t tee) IncrementCounter(name string) {
	for _, s := range t {
		s.IncrementCounter(name)
	}
}

type safeSink struct {
	next   Sink
	logger *zap.Logger
}

// Safe wraps a sink so a panicking backend never reaches the caller.
func Safe(next Sink, logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &safeSink{next: next, logger: logger}
}

func (s *safeSink) RecordMetric(name string, value float64) {
	defer s.guard(name)
	s.next.RecordMetric(name, value)
}

func (s *safeSink) IncrementCounter(name string) {
	defer s.guard(name)
	s.next.IncrementCounter(name)
}

func (s *safeSink) guard(name string) {
	if r := recover(); r != nil {
		s.logger.Warn("Metrics sink panicked", zap.String("metric", name), zap.Any("panic", r))
	}
}

// StartTimer returns a stop function that records elapsed milliseconds.
func StartTimer(sink Sink, name string) func() int64 {
	start := time.Now()
	return func() int64 {
		ms := time.Since(start).Milliseconds()
		sink.RecordMetric(name, float64(ms))
		return ms
	}
}

// Middleware counts requests and errors and times each route.
func Middleware(sink Sink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		elapsed := float64(time.Since(start).Milliseconds())
		sink.IncrementCounter(APIRequestsTotal)
		sink.RecordMetric(APILatencyMS, elapsed)
		APILatency.WithLabelValues(c.Route().Path).Observe(elapsed)

		if err != nil || c.Response().StatusCode() >= fiber.StatusInternalServerError {
			sink.IncrementCounter(APIErrorsTotal)
		}
		return err
	}
}
