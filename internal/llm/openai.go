package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/insights"
	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/pkg/apierror"
	"github.com/scout-dashboard/backend/pkg/circuitbreaker"
)

const systemPrompt = `You are a retail analytics assistant for a network of Philippine sari-sari stores.

Answer questions about transactions, products, brands, regions, payment methods and shoppers.
Keep answers to two or three sentences. When reference figures are supplied, base the answer on them
and do not invent numbers. If the question cannot be answered from retail data, say what to ask instead.`

const (
	groundedConfidence   = 0.85
	ungroundedConfidence = 0.75
	truncatedConfidence  = 0.6
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	cb          *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isProviderFault,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: cfg.Logger,
	})

	cfg.Logger.Info("OpenAI provider initialized", zap.String("model", cfg.Model))

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		cb:          cb,
		logger:      cfg.Logger,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Ask(ctx context.Context, query string, qc QueryContext) (*Answer, error) {
	maxTokens := p.maxTokens
	if qc.MaxTokens > 0 && qc.MaxTokens < maxTokens {
		maxTokens = qc.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    buildMessages(query, qc.Insight),
		Temperature: p.temperature,
		MaxTokens:   maxTokens,
		User:        qc.UserID,
	}

	resp, err := circuitbreaker.Call(ctx, p.cb, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return p.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apierror.New(apierror.CodeAIService, "provider returned no choices", apierror.Recoverable())
	}

	p.logger.Debug("Completion received",
		zap.String("request_id", qc.RequestID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	choice := resp.Choices[0]
	answer := &Answer{
		Text:       strings.TrimSpace(choice.Message.Content),
		Confidence: ungroundedConfidence,
		TokensUsed: resp.Usage.TotalTokens,
		QueryType:  "ai_generated",
	}
	if qc.Insight != nil {
		answer.Confidence = groundedConfidence
		answer.QueryType = qc.Insight.Pattern
	}
	if choice.FinishReason == openai.FinishReasonLength {
		answer.Confidence = truncatedConfidence
	}
	return answer, nil
}

func buildMessages(query string, insight *insights.Insight) []openai.ChatCompletionMessage {
	user := query
	if insight != nil && insight.Text != "" {
		user = fmt.Sprintf("Question: %s\n\nReference figures:\n%s", query, insight.Text)
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}
}

// classify maps provider failures onto API errors. Quota and bad-request
// failures keep "rate" and "invalid" in their message so they are not retried.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apierror.New(apierror.CodeServiceUnavailable, "AI provider unavailable", apierror.Recoverable(), apierror.WithCause(err))
	}

	switch statusOf(err) {
	case http.StatusTooManyRequests:
		return apierror.New(apierror.CodeAIService, "provider rate limit reached", apierror.Recoverable(), apierror.WithCause(err))
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return apierror.New(apierror.CodeAIService, "invalid provider request", apierror.WithCause(err))
	}
	return apierror.New(apierror.CodeAIService, "AI provider call failed", apierror.Recoverable(), apierror.WithCause(err))
}

func isProviderFault(err error) bool {
	status := statusOf(err)
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
