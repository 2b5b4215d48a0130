package handlers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/apierror"
)

type SourceCounter interface {
	SourceCounts(ctx context.Context, since time.Time) (map[models.Source]int, error)
}

type MetricsHandler struct {
	collector *metrics.Collector
	sources   SourceCounter
	secret    string
	logger    *zap.Logger
}

// NewMetricsHandler serves in-process metric summaries. An empty secret
// leaves the endpoint open.
func NewMetricsHandler(collector *metrics.Collector, sources SourceCounter, secret string, logger *zap.Logger) *MetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsHandler{collector: collector, sources: sources, secret: secret, logger: logger}
}

func (h *MetricsHandler) HandleMetrics(c *fiber.Ctx) error {
	if !h.authorized(c.Get(fiber.HeaderAuthorization)) {
		return respondError(c, apierror.New(apierror.CodeUnauthorized, "Invalid or missing metrics token"))
	}

	body := fiber.Map{
		"success":   true,
		"summaries": h.collector.Summaries(),
		"counters":  h.collector.Counters(),
		"timestamp": time.Now().UTC(),
	}

	if h.sources != nil {
		counts, err := h.sources.SourceCounts(c.UserContext(), time.Now().Add(-time.Hour))
		if err != nil {
			h.logger.Warn("Failed to count answer sources", zap.Error(err))
		} else {
			body["sourcesLastHour"] = counts
		}
	}

	return c.JSON(body)
}

func (h *MetricsHandler) authorized(header string) bool {
	if h.secret == "" {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
