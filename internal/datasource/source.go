// Package datasource reads rows from the precomputed analytics views. Only
// views on the AllowedViews list can be queried; callers name a view and a
// projection and never supply SQL.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/scout-dashboard/backend/internal/storage/models"
)

// AllowedViews is the closed set of views the NLQ surface may read.
var AllowedViews = []string{
	"v_tx_trends",
	"v_product_mix",
	"v_brand_performance",
	"v_consumer_profile",
	"v_consumer_age_distribution",
	"v_competitive_analysis",
	"v_geo_regions",
	"v_funnel_analysis",
	"v_daypart_analysis",
	"v_payment_methods",
	"v_store_performance",
	"v_kpi_summary",
	"scout_stats_summary",
	"scout_gold_transactions_flat",
}

var (
	ErrViewNotAllowed    = errors.New("view is not whitelisted")
	ErrInvalidIdentifier = errors.New("invalid column identifier")
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type SelectOptions struct {
	OrderBy *models.Order
	Limit   int
}

// Source is the structured data collaborator used for chart payloads and
// live insights.
type Source interface {
	Select(ctx context.Context, view, columns string, opts SelectOptions) ([]models.Row, error)
}

func IsAllowedView(view string) bool {
	for _, allowed := range AllowedViews {
		if allowed == view {
			return true
		}
	}
	return false
}

// ParseColumns splits a comma-separated projection and validates each name.
// "*" selects every column.
func ParseColumns(columns string) ([]string, error) {
	trimmed := strings.TrimSpace(columns)
	if trimmed == "" || trimmed == "*" {
		return nil, nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if !identifierPattern.MatchString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
		out = append(out, name)
	}
	return out, nil
}
