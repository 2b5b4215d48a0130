package models

import "time"

type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartArea    ChartType = "area"
	ChartScatter ChartType = "scatter"
)

// Source records which layer produced an NLQ answer.
type Source string

const (
	SourceAI       Source = "ai"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

type Order struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// Row is one record returned from a structured view.
type Row map[string]any

type ResponseMetadata struct {
	QueryType string `json:"queryType,omitempty"`
	DataRange string `json:"dataRange,omitempty"`
	Cached    *bool  `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

type NLQResponse struct {
	Answer     string            `json:"answer"`
	Confidence float64           `json:"confidence"`
	Source     Source            `json:"source"`
	LatencyMS  int64             `json:"latencyMs"`
	TokensUsed int               `json:"tokensUsed"`
	Metadata   *ResponseMetadata `json:"metadata,omitempty"`
}

type QueryRecord struct {
	ID         string
	RequestID  string
	UserID     string
	QueryText  string
	Answer     string
	Source     Source
	Confidence float64
	TokensUsed int
	LatencyMS  int64
	Error      string
	CreatedAt  time.Time
}
