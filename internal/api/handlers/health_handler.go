package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/scout-dashboard/backend/internal/datasource"
)

const healthCheckTimeout = 3 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	database Pinger
	source   datasource.Source
	history  Pinger
	slas     []datasource.FreshnessSLA
	now      func() time.Time
}

// NewHealthHandler builds the health check. database and source may be nil
// when no warehouse is configured; history may be nil when SQLite is off.
func NewHealthHandler(database Pinger, source datasource.Source, history Pinger, slas []datasource.FreshnessSLA) *HealthHandler {
	if slas == nil {
		slas = datasource.DefaultSLAs
	}
	return &HealthHandler{
		database: database,
		source:   source,
		history:  history,
		slas:     slas,
		now:      time.Now,
	}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	checks := fiber.Map{}
	status := "healthy"
	freshness := []datasource.FreshnessResult{}

	switch {
	case h.database == nil:
		checks["database"] = "disabled"
		status = "degraded"
	case h.database.Ping(ctx) != nil:
		checks["database"] = "unreachable"
		status = "unhealthy"
	default:
		checks["database"] = "ok"
		if h.source != nil {
			freshness = datasource.CheckFreshness(ctx, h.source, h.slas, h.now())
			status = datasource.Overall(freshness)
		}
	}

	if h.history != nil {
		if err := h.history.Ping(ctx); err != nil {
			checks["history"] = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["history"] = "ok"
		}
	}

	code := fiber.StatusOK
	if status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"freshness": freshness,
		"timestamp": h.now().UTC(),
	})
}
