package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/scout-dashboard/backend/internal/storage/models"
)

type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type FreshnessSLA struct {
	View            string
	TimestampColumn string
	MaxAge          time.Duration
	Severity        Severity
}

type FreshnessResult struct {
	View       string     `json:"view"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	AgeMinutes float64    `json:"ageMinutes"`
	MaxMinutes float64    `json:"maxMinutes"`
	Fresh      bool       `json:"fresh"`
	Severity   Severity   `json:"severity"`
	Error      string     `json:"error,omitempty"`
}

// DefaultSLAs covers the transaction feed and the summary table.
var DefaultSLAs = []FreshnessSLA{
	{View: "scout_gold_transactions_flat", TimestampColumn: "timestamp", MaxAge: 15 * time.Minute, Severity: SeverityError},
	{View: "scout_stats_summary", TimestampColumn: "updated_at", MaxAge: 60 * time.Minute, Severity: SeverityWarn},
}

// CheckFreshness reads the newest timestamp of every SLA view. A failed read
// is reported as stale rather than returned as an error.
func CheckFreshness(ctx context.Context, src Source, slas []FreshnessSLA, now time.Time) []FreshnessResult {
	results := make([]FreshnessResult, 0, len(slas))

	for _, sla := range slas {
		res := FreshnessResult{
			View:       sla.View,
			MaxMinutes: sla.MaxAge.Minutes(),
			Severity:   sla.Severity,
		}

		rows, err := src.Select(ctx, sla.View, sla.TimestampColumn, SelectOptions{
			OrderBy: &models.Order{Column: sla.TimestampColumn, Descending: true},
			Limit:   1,
		})
		switch {
		case err != nil:
			res.Error = err.Error()
		case len(rows) == 0:
			res.Error = "no rows"
		default:
			ts, ok := asTime(rows[0][sla.TimestampColumn])
			if !ok {
				res.Error = fmt.Sprintf("column %s is not a timestamp", sla.TimestampColumn)
				break
			}
			age := now.Sub(ts)
			res.LastUpdate = &ts
			res.AgeMinutes = age.Minutes()
			res.Fresh = age <= sla.MaxAge
		}

		results = append(results, res)
	}

	return results
}

// Overall folds per-view results into healthy, degraded or unhealthy.
func Overall(results []FreshnessResult) string {
	status := "healthy"
	for _, r := range results {
		if r.Fresh {
			continue
		}
		if r.Severity == SeverityError {
			return "unhealthy"
		}
		status = "degraded"
	}
	return status
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
