// Package llm holds the AI providers that answer NLQ questions.
package llm

import (
	"context"

	"github.com/scout-dashboard/backend/internal/insights"
)

// QueryContext carries what the orchestrator already knows about a query.
type QueryContext struct {
	RequestID string
	UserID    string
	// Insight is the fallback insight matched at any confidence, or nil.
	Insight   *insights.Insight
	MaxTokens int
}

type Answer struct {
	Text       string
	Confidence float64
	TokensUsed int
	QueryType  string
}

// Provider answers a question. Implementations must stop work when ctx is
// cancelled; callers abandon slow calls.
type Provider interface {
	Name() string
	Ask(ctx context.Context, query string, qc QueryContext) (*Answer, error)
}
