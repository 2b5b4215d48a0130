// Package nlq answers natural-language questions about the store network.
// Every call returns an answer: failures degrade to canned insights.
package nlq

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/cache"
	"github.com/scout-dashboard/backend/internal/insights"
	"github.com/scout-dashboard/backend/internal/llm"
	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/internal/middleware/ratelimit"
	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/apierror"
	"github.com/scout-dashboard/backend/pkg/resilience"
)

const (
	genericAnswer = "I couldn't process that query right now, but here's what I can tell you: " +
		"Peak shopping hours in Philippine sari-sari stores are typically 7-9 AM and 5-7 PM, " +
		"accounting for about 60% of daily transaction volume. The most popular product " +
		"categories are beverages, snacks, and personal care items."
	genericConfidence = 0.5
	degradedFactor    = 0.8

	historyWriteTimeout = 2 * time.Second
)

type Config struct {
	Timeout             time.Duration
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	CacheTTL            time.Duration
	ConfidenceThreshold float64
	RequestsPerWindow   int
	TokensPerRequest    int
	TokensPerUserWindow int
}

func DefaultConfig() Config {
	return Config{
		Timeout:             8 * time.Second,
		MaxRetries:          2,
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		CacheTTL:            300 * time.Second,
		ConfidenceThreshold: 0.7,
		RequestsPerWindow:   100,
		TokensPerRequest:    2000,
		TokensPerUserWindow: 50000,
	}
}

type Options struct {
	RequestID string
	UserID    string
	// Timeout overrides Config.Timeout for each provider attempt.
	Timeout   time.Duration
	SkipCache bool
}

type InsightSource interface {
	Lookup(query string) *insights.Insight
}

type RequestLimiter interface {
	Check(key string, limit int) ratelimit.Result
}

// TokenBudget tracks tokens charged per user. Add must accept negative
// amounts so reservations can be settled.
type TokenBudget interface {
	Add(key string, n int) int
	RetryAfter(key string) int
}

type HistoryRecorder interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

// Dependencies wires the collaborators. Only Provider is required.
type Dependencies struct {
	Provider    llm.Provider
	Insights    InsightSource
	Cache       *cache.QueryCache
	Limiter     RequestLimiter
	TokenBudget TokenBudget
	History     HistoryRecorder
	Metrics     metrics.Sink
	Logger      *zap.Logger
}

type Service struct {
	cfg  Config
	deps Dependencies
	log  *zap.Logger
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Provider == nil {
		return nil, errors.New("nlq: provider is required")
	}

	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = def.RequestsPerWindow
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Service{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// Query runs a question through rate limiting, cache, fallback insights and
// the provider. The response is never nil. The error is non-nil only when
// the user was over quota; the response then holds the degraded answer.
func (s *Service) Query(ctx context.Context, text string, opts Options) (*models.NLQResponse, error) {
	start := time.Now()
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}

	s.log.Debug("NLQ query started",
		zap.String("request_id", opts.RequestID),
		zap.String("user_id", opts.UserID),
		zap.Int("query_length", len(text)),
	)

	resp, err := s.answer(ctx, text, opts)
	if err != nil {
		s.log.Error("NLQ query failed",
			zap.String("request_id", opts.RequestID),
			zap.Error(err),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
		s.deps.Metrics.IncrementCounter(metrics.NLQFallbacks)
		resp = s.fallback(text, err)
	}

	resp.LatencyMS = time.Since(start).Milliseconds()
	s.complete(ctx, text, opts, resp)

	var denial *apierror.Error
	if errors.As(err, &denial) && denial.Code == apierror.CodeRateLimited {
		return resp, denial
	}
	return resp, nil
}

func (s *Service) answer(ctx context.Context, text string, opts Options) (*models.NLQResponse, error) {
	if opts.UserID != "" && s.deps.Limiter != nil {
		res := s.deps.Limiter.Check(opts.UserID, s.cfg.RequestsPerWindow)
		if !res.Allowed {
			s.deps.Metrics.IncrementCounter(metrics.NLQRateLimited)
			return nil, apierror.New(apierror.CodeRateLimited, "Query rate limit exceeded",
				apierror.Recoverable(),
				apierror.WithRetryAfter(time.Duration(res.RetryAfterSeconds)*time.Second),
			)
		}
	}

	if !opts.SkipCache && s.deps.Cache != nil {
		if cached := s.deps.Cache.Get(ctx, text); cached != nil {
			s.deps.Metrics.IncrementCounter(metrics.NLQCacheHits)
			return cached, nil
		}
		s.deps.Metrics.IncrementCounter(metrics.NLQCacheMisses)
	}

	var insight *insights.Insight
	if s.deps.Insights != nil {
		insight = s.deps.Insights.Lookup(text)
	}
	if insight != nil && insight.Confidence >= s.cfg.ConfidenceThreshold {
		return &models.NLQResponse{
			Answer:     insight.Text,
			Confidence: insight.Confidence,
			Source:     models.SourceFallback,
			Metadata: &models.ResponseMetadata{
				QueryType: insight.Pattern,
				DataRange: insight.DataSource,
			},
		}, nil
	}

	reserved, err := s.reserveBudget(opts.UserID)
	if err != nil {
		return nil, err
	}

	answer, err := s.ask(ctx, text, opts, insight)
	if err != nil {
		s.settleBudget(opts.UserID, reserved, 0)
		return nil, err
	}
	s.settleBudget(opts.UserID, reserved, answer.TokensUsed)

	resp := &models.NLQResponse{
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Source:     models.SourceAI,
		TokensUsed: answer.TokensUsed,
	}
	if answer.QueryType != "" {
		resp.Metadata = &models.ResponseMetadata{QueryType: answer.QueryType}
	}

	if s.deps.Cache != nil && resp.Confidence >= s.cfg.ConfidenceThreshold {
		s.deps.Cache.Set(ctx, text, resp, s.cfg.CacheTTL)
	}

	return resp, nil
}

// reserveBudget charges a full request's worth of tokens before the
// provider is called. settleBudget corrects the charge afterwards.
func (s *Service) reserveBudget(userID string) (int, error) {
	if userID == "" || s.deps.TokenBudget == nil || s.cfg.TokensPerUserWindow <= 0 {
		return 0, nil
	}

	reserve := s.cfg.TokensPerRequest
	if s.deps.TokenBudget.Add(userID, reserve) <= s.cfg.TokensPerUserWindow {
		return reserve, nil
	}
	s.deps.TokenBudget.Add(userID, -reserve)

	s.deps.Metrics.IncrementCounter(metrics.NLQBudgetDenied)
	return 0, apierror.New(apierror.CodeRateLimited, "Token budget exhausted for this hour",
		apierror.Recoverable(),
		apierror.WithRetryAfter(time.Duration(s.deps.TokenBudget.RetryAfter(userID))*time.Second),
	)
}

func (s *Service) settleBudget(userID string, reserved, used int) {
	if userID == "" || s.deps.TokenBudget == nil {
		return
	}
	if delta := used - reserved; delta != 0 {
		s.deps.TokenBudget.Add(userID, delta)
	}
}

func (s *Service) ask(ctx context.Context, text string, opts Options, insight *insights.Insight) (*llm.Answer, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	qc := llm.QueryContext{
		RequestID: opts.RequestID,
		UserID:    opts.UserID,
		Insight:   insight,
		MaxTokens: s.cfg.TokensPerRequest,
	}

	retryCfg := resilience.RetryConfig{
		MaxRetries:  s.cfg.MaxRetries,
		BaseDelay:   s.cfg.BaseDelay,
		MaxDelay:    s.cfg.MaxDelay,
		ShouldRetry: Retryable,
		OnRetry: func(attempt int, err error) {
			s.deps.Metrics.IncrementCounter(metrics.NLQRetries)
			s.log.Warn("Retrying NLQ provider call",
				zap.String("request_id", opts.RequestID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		Logger: s.log,
	}

	return resilience.WithRetry(ctx, retryCfg, func(ctx context.Context) (*llm.Answer, error) {
		answer, err := resilience.WithTimeout(ctx, timeout, func(ctx context.Context) (*llm.Answer, error) {
			return s.deps.Provider.Ask(ctx, text, qc)
		}, nil)
		if apierror.IsTimeout(err) {
			s.deps.Metrics.IncrementCounter(metrics.NLQTimeouts)
		}
		return answer, err
	})
}

// Retryable reports whether a provider failure is worth another attempt.
// Quota and malformed-request failures are not.
func Retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return !strings.Contains(msg, "rate") && !strings.Contains(msg, "invalid")
}

func (s *Service) fallback(text string, cause error) *models.NLQResponse {
	var insight *insights.Insight
	if s.deps.Insights != nil {
		insight = s.deps.Insights.Lookup(text)
	}

	if insight != nil {
		cached := false
		return &models.NLQResponse{
			Answer:     insight.Text,
			Confidence: insight.Confidence * degradedFactor,
			Source:     models.SourceFallback,
			Metadata: &models.ResponseMetadata{
				QueryType: insight.Pattern,
				Cached:    &cached,
				Error:     cause.Error(),
			},
		}
	}

	return &models.NLQResponse{
		Answer:     genericAnswer,
		Confidence: genericConfidence,
		Source:     models.SourceFallback,
		Metadata:   &models.ResponseMetadata{Error: cause.Error()},
	}
}

func (s *Service) complete(ctx context.Context, text string, opts Options, resp *models.NLQResponse) {
	s.deps.Metrics.RecordMetric(metrics.NLQLatencyMS, float64(resp.LatencyMS))
	s.deps.Metrics.RecordMetric(metrics.NLQConfidence, resp.Confidence)

	// Cached answers keep the original token count but cost nothing now.
	spent := 0
	if resp.Source == models.SourceAI {
		spent = resp.TokensUsed
	}
	if spent > 0 {
		s.deps.Metrics.RecordMetric(metrics.NLQTokensUsed, float64(spent))
	}

	s.log.Info("NLQ query complete",
		zap.String("request_id", opts.RequestID),
		zap.String("user_id", opts.UserID),
		zap.String("source", string(resp.Source)),
		zap.Float64("confidence", resp.Confidence),
		zap.Int64("latency_ms", resp.LatencyMS),
		zap.Int("tokens_used", spent),
	)

	if s.deps.History == nil {
		return
	}

	record := &models.QueryRecord{
		ID:         uuid.NewString(),
		RequestID:  opts.RequestID,
		UserID:     opts.UserID,
		QueryText:  text,
		Answer:     resp.Answer,
		Source:     resp.Source,
		Confidence: resp.Confidence,
		TokensUsed: spent,
		LatencyMS:  resp.LatencyMS,
		CreatedAt:  time.Now().UTC(),
	}
	if resp.Metadata != nil {
		record.Error = resp.Metadata.Error
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := s.deps.History.InsertQueryRecord(hctx, record); err != nil {
		s.log.Warn("Failed to record NLQ history", zap.String("request_id", opts.RequestID), zap.Error(err))
	}
}
