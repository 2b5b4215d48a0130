package insights

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/scout-dashboard/backend/internal/datasource"
	"github.com/scout-dashboard/backend/internal/storage/models"
)

var (
	ErrNoSource = errors.New("no data source configured")
	ErrNoData   = errors.New("view returned no rows")
)

func topCategories(ctx context.Context, src datasource.Source) (string, error) {
	rows, err := selectRows(ctx, src, "v_product_mix", "product_category, revenue, tx_share_pct", "revenue", 3)
	if err != nil {
		return "", err
	}

	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = fmt.Sprintf("%d. %v (%s%% of transactions)", i+1, row["product_category"], formatNumber(row["tx_share_pct"]))
	}

	return fmt.Sprintf("Top performing product categories are: %s. These categories consistently drive the majority of revenue across all regions.",
		strings.Join(parts, ", ")), nil
}

func topRegions(ctx context.Context, src datasource.Source) (string, error) {
	rows, err := selectRows(ctx, src, "v_geo_regions", "region_name, revenue, tx_count", "revenue", 3)
	if err != nil {
		return "", err
	}

	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = fmt.Sprintf("%d. %v", i+1, row["region_name"])
	}

	return fmt.Sprintf("The top performing regions by revenue are: %s. Metro Manila (NCR) typically leads in transaction volume due to population density, while Cebu and Davao show strong growth in the Visayas and Mindanao respectively.",
		strings.Join(parts, ", ")), nil
}

func activeStores(ctx context.Context, src datasource.Source) (string, error) {
	rows, err := selectRows(ctx, src, "scout_stats_summary", "active_stores", "", 1)
	if err != nil {
		return "", err
	}

	count, ok := toFloat(rows[0]["active_stores"])
	if !ok {
		return "", fmt.Errorf("unexpected active_stores value %T", rows[0]["active_stores"])
	}

	return fmt.Sprintf("There are currently %s active stores in the Scout network, distributed across all major Philippine regions. Store coverage is highest in NCR and CALABARZON.",
		humanize.Comma(int64(count))), nil
}

func selectRows(ctx context.Context, src datasource.Source, view, columns, orderDesc string, limit int) ([]models.Row, error) {
	if src == nil {
		return nil, ErrNoSource
	}

	opts := datasource.SelectOptions{Limit: limit}
	if orderDesc != "" {
		opts.OrderBy = &models.Order{Column: orderDesc, Descending: true}
	}

	rows, err := src.Select(ctx, view, columns, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", view, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", view, ErrNoData)
	}
	return rows, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case pgtype.Numeric:
		f, err := n.Float64Value()
		return f.Float64, err == nil && f.Valid
	default:
		return 0, false
	}
}

func formatNumber(v any) string {
	f, ok := toFloat(v)
	if !ok {
		return fmt.Sprint(v)
	}
	return humanize.FtoaWithDigits(f, 1)
}
