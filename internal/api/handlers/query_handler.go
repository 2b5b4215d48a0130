package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scout-dashboard/backend/internal/datasource"
	"github.com/scout-dashboard/backend/internal/middleware/validation"
	"github.com/scout-dashboard/backend/internal/nlq"
	"github.com/scout-dashboard/backend/internal/patterns"
	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/apierror"
)

const (
	DefaultConcurrentTimeout = 5 * time.Second
	maxHistoryLimit          = 100
)

type NLQService interface {
	Query(ctx context.Context, text string, opts nlq.Options) (*models.NLQResponse, error)
}

type HistoryStore interface {
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
}

type InsightLister interface {
	Patterns() []string
}

type QueryHandlerConfig struct {
	Service NLQService
	// Source may be nil, in which case answers are returned without chart rows.
	Source            datasource.Source
	Matcher           *patterns.Matcher
	History           HistoryStore
	Insights          InsightLister
	ConcurrentTimeout time.Duration
	Logger            *zap.Logger
}

type QueryHandler struct {
	svc               NLQService
	source            datasource.Source
	matcher           *patterns.Matcher
	history           HistoryStore
	insights          InsightLister
	concurrentTimeout time.Duration
	logger            *zap.Logger
}

func NewQueryHandler(cfg QueryHandlerConfig) *QueryHandler {
	if cfg.Matcher == nil {
		cfg.Matcher = patterns.Default()
	}
	if cfg.ConcurrentTimeout <= 0 {
		cfg.ConcurrentTimeout = DefaultConcurrentTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &QueryHandler{
		svc:               cfg.Service,
		source:            cfg.Source,
		matcher:           cfg.Matcher,
		history:           cfg.History,
		insights:          cfg.Insights,
		concurrentTimeout: cfg.ConcurrentTimeout,
		logger:            cfg.Logger,
	}
}

type queryRequest struct {
	Query     string `json:"query" validate:"required,max=500"`
	Limit     int    `json:"limit" validate:"omitempty,min=1,max=1000"`
	UserID    string `json:"userId" validate:"max=128"`
	SkipCache bool   `json:"skipCache"`
}

type chartConfig struct {
	Type models.ChartType `json:"type"`
	patterns.ChartConfig
}

type queryResult struct {
	Success         bool                `json:"success"`
	Query           string              `json:"query"`
	Pattern         string              `json:"pattern"`
	MatchConfidence float64             `json:"matchConfidence"`
	MatchedKeywords []string            `json:"matchedKeywords"`
	View            string              `json:"view"`
	ChartConfig     chartConfig         `json:"chartConfig"`
	Data            []models.Row        `json:"data"`
	DataError       string              `json:"dataError,omitempty"`
	Response        *models.NLQResponse `json:"response"`
	Error           string              `json:"error,omitempty"`
}

// HandleQuery answers a question with both a chart payload from the matched
// view and a natural-language answer. The two run concurrently and either
// may fail without failing the request.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("Failed to parse request body", zap.Error(err))
		return respondError(c, apierror.New(apierror.CodeBadRequest, "Invalid request body"))
	}
	if sanitized, ok := c.Locals(validation.SanitizedQueryKey).(string); ok {
		req.Query = sanitized
	}
	req.Query = strings.TrimSpace(req.Query)

	if err := validate.Struct(req); err != nil {
		return respondError(c, apierror.New(apierror.CodeValidationFailed, validationMessage(err),
			apierror.WithStatus(fiber.StatusBadRequest)))
	}

	rid := requestID(c)
	userID := c.Get("X-User-ID")
	if userID == "" {
		userID = req.UserID
	}

	match := h.matcher.Match(req.Query)
	chartType := patterns.DetectChartType(req.Query, match.Pattern.ChartType)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.concurrentTimeout+time.Second)
	defer cancel()

	var (
		rows     []models.Row
		rowsErr  error
		resp     *models.NLQResponse
		queryErr error
		g        errgroup.Group
	)

	// Both halves return nil; their errors travel through the captured
	// variables so one failing never cancels the other.
	g.Go(func() error {
		rows, rowsErr = h.fetchChart(ctx, match.Pattern, req.Limit)
		return nil
	})
	g.Go(func() error {
		resp, queryErr = h.svc.Query(ctx, req.Query, nlq.Options{
			RequestID: rid,
			UserID:    userID,
			Timeout:   h.concurrentTimeout,
			SkipCache: req.SkipCache,
		})
		return nil
	})
	_ = g.Wait()

	result := queryResult{
		Success:         true,
		Query:           req.Query,
		Pattern:         match.Pattern.Name,
		MatchConfidence: match.Confidence,
		MatchedKeywords: match.MatchedKeywords,
		View:            match.Pattern.View,
		ChartConfig:     chartConfig{Type: chartType, ChartConfig: match.Pattern.ChartConfig},
		Data:            rows,
		Response:        resp,
	}
	if result.Data == nil {
		result.Data = []models.Row{}
	}
	if result.MatchedKeywords == nil {
		result.MatchedKeywords = []string{}
	}
	if rowsErr != nil {
		h.logger.Warn("Chart data fetch failed",
			zap.String("request_id", rid),
			zap.String("view", match.Pattern.View),
			zap.Error(rowsErr),
		)
		result.DataError = "Chart data unavailable"
	}

	var denial *apierror.Error
	if errors.As(queryErr, &denial) && denial.Code == apierror.CodeRateLimited {
		result.Success = false
		result.Error = denial.Message
		if secs := int(denial.RetryAfter.Seconds()); secs > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(result)
	}

	return c.JSON(result)
}

func (h *QueryHandler) fetchChart(ctx context.Context, p patterns.Pattern, limit int) ([]models.Row, error) {
	if h.source == nil {
		return nil, errors.New("structured data source not configured")
	}

	opts := datasource.SelectOptions{OrderBy: p.OrderBy, Limit: p.Limit}
	if limit > 0 && (opts.Limit == 0 || limit < opts.Limit) {
		opts.Limit = limit
	}

	ctx, cancel := context.WithTimeout(ctx, h.concurrentTimeout)
	defer cancel()
	return h.source.Select(ctx, p.View, p.Columns, opts)
}

func (h *QueryHandler) GetSuggestions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":     true,
		"suggestions": patterns.Suggestions(),
		"patterns":    h.matcher.Names(),
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		userID = c.Get("X-User-ID")
	}
	if userID == "" {
		return respondError(c, apierror.New(apierror.CodeBadRequest, "user_id is required"))
	}
	if h.history == nil {
		return respondError(c, apierror.New(apierror.CodeServiceUnavailable, "Query history is not available"))
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.history.GetQueryHistory(c.UserContext(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to load query history", zap.String("user_id", userID), zap.Error(err))
		return respondError(c, apierror.New(apierror.CodeDatabase, "Failed to load query history"))
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		entry := fiber.Map{
			"id":         r.ID,
			"requestId":  r.RequestID,
			"query":      r.QueryText,
			"answer":     r.Answer,
			"source":     r.Source,
			"confidence": r.Confidence,
			"tokensUsed": r.TokensUsed,
			"latencyMs":  r.LatencyMS,
			"createdAt":  r.CreatedAt,
		}
		if r.Error != "" {
			entry["error"] = r.Error
		}
		history = append(history, entry)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"history": history,
	})
}

func (h *QueryHandler) GetInsights(c *fiber.Ctx) error {
	var ids []string
	if h.insights != nil {
		ids = h.insights.Patterns()
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"patterns": ids,
	})
}
