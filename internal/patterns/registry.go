package patterns

import "github.com/scout-dashboard/backend/internal/storage/models"

type ChartConfig struct {
	XField  string `json:"xField,omitempty"`
	YField  string `json:"yField,omitempty"`
	DataKey string `json:"dataKey,omitempty"`
	NameKey string `json:"nameKey,omitempty"`
}

// Pattern maps keyword hits onto a fixed read of one whitelisted view.
type Pattern struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Keywords    []string         `json:"keywords"`
	View        string           `json:"view"`
	Columns     string           `json:"columns"`
	OrderBy     *models.Order    `json:"orderBy,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	ChartType   models.ChartType `json:"chartType"`
	ChartConfig ChartConfig      `json:"chartConfig"`
}

func asc(column string) *models.Order  { return &models.Order{Column: column} }
func desc(column string) *models.Order { return &models.Order{Column: column, Descending: true} }

// Registry returns the default pattern list. The first entry is the
// unmatched default.
func Registry() []Pattern {
	return []Pattern{
		{
			Name:        "daily_trends",
			Description: "Daily transaction trends over time",
			Keywords:    []string{"trend", "daily", "day", "date", "time", "timeline", "over time", "sales by day"},
			View:        "v_tx_trends",
			Columns:     "tx_date, tx_count, total_revenue, avg_basket_value",
			OrderBy:     asc("tx_date"),
			ChartType:   models.ChartLine,
			ChartConfig: ChartConfig{XField: "tx_date", YField: "tx_count"},
		},
		{
			Name:        "revenue_trends",
			Description: "Revenue trends over time",
			Keywords:    []string{"revenue", "sales", "money", "income", "earnings"},
			View:        "v_tx_trends",
			Columns:     "tx_date, total_revenue, tx_count",
			OrderBy:     asc("tx_date"),
			ChartType:   models.ChartArea,
			ChartConfig: ChartConfig{XField: "tx_date", YField: "total_revenue"},
		},
		{
			Name:        "category_breakdown",
			Description: "Product category distribution",
			Keywords:    []string{"category", "categories", "product mix", "breakdown", "distribution", "split"},
			View:        "v_product_mix",
			Columns:     "product_category, tx_count, revenue, revenue_share_pct",
			OrderBy:     desc("revenue"),
			ChartType:   models.ChartPie,
			ChartConfig: ChartConfig{DataKey: "revenue", NameKey: "product_category"},
		},
		{
			Name:        "category_units",
			Description: "Units sold by category",
			Keywords:    []string{"units", "quantity", "sold", "volume"},
			View:        "v_product_mix",
			Columns:     "product_category, units_sold, tx_count",
			OrderBy:     desc("units_sold"),
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "product_category", YField: "units_sold"},
		},
		{
			Name:        "brand_performance",
			Description: "Brand performance metrics",
			Keywords:    []string{"brand", "brands", "brand performance", "top brands"},
			View:        "v_brand_performance",
			Columns:     "brand_name, product_category, revenue, tx_count, tbwa_client_brand",
			OrderBy:     desc("revenue"),
			Limit:       15,
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "brand_name", YField: "revenue"},
		},
		{
			Name:        "tbwa_brands",
			Description: "TBWA client brand performance",
			Keywords:    []string{"tbwa", "client brand", "our brands", "client"},
			View:        "v_brand_performance",
			Columns:     "brand_name, product_category, revenue, tx_count",
			OrderBy:     desc("revenue"),
			Limit:       20,
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "brand_name", YField: "revenue"},
		},
		{
			Name:        "regional_performance",
			Description: "Performance by region",
			Keywords:    []string{"region", "regions", "geographic", "geography", "location", "area", "province"},
			View:        "v_geo_regions",
			Columns:     "region_name, revenue, tx_count, stores_count, growth_rate",
			OrderBy:     desc("revenue"),
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "region_name", YField: "revenue"},
		},
		{
			Name:        "regional_growth",
			Description: "Regional growth rates",
			Keywords:    []string{"growth", "growing", "fastest", "increase"},
			View:        "v_geo_regions",
			Columns:     "region_name, growth_rate, revenue",
			OrderBy:     desc("growth_rate"),
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "region_name", YField: "growth_rate"},
		},
		{
			Name:        "store_performance",
			Description: "Store-level performance",
			Keywords:    []string{"store", "stores", "outlet", "outlets", "shop"},
			View:        "v_store_performance",
			Columns:     "store_name, region_code, city, tx_count, revenue, avg_basket_value",
			OrderBy:     desc("revenue"),
			Limit:       20,
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "store_name", YField: "revenue"},
		},
		{
			Name:        "consumer_demographics",
			Description: "Consumer demographic breakdown",
			Keywords:    []string{"consumer", "customer", "demographics", "profile", "segment"},
			View:        "v_consumer_profile",
			Columns:     "income, urban_rural, gender, tx_count, revenue, avg_basket_value",
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "income", YField: "tx_count"},
		},
		{
			Name:        "age_distribution",
			Description: "Customer age distribution",
			Keywords:    []string{"age", "ages", "age group", "young", "old", "generation"},
			View:        "v_consumer_age_distribution",
			Columns:     "age_bracket, tx_count, revenue, unique_customers",
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "age_bracket", YField: "tx_count"},
		},
		{
			Name:        "daypart_analysis",
			Description: "Time of day analysis",
			Keywords:    []string{"daypart", "time of day", "morning", "afternoon", "evening", "night", "hour"},
			View:        "v_daypart_analysis",
			Columns:     "time_of_day, tx_count, revenue, avg_basket_value, tx_share_pct",
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "time_of_day", YField: "tx_count"},
		},
		{
			Name:        "payment_methods",
			Description: "Payment method distribution",
			Keywords:    []string{"payment", "pay", "cash", "gcash", "maya", "card", "credit", "debit"},
			View:        "v_payment_methods",
			Columns:     "payment_method, tx_count, revenue, tx_share_pct",
			ChartType:   models.ChartPie,
			ChartConfig: ChartConfig{DataKey: "tx_count", NameKey: "payment_method"},
		},
		{
			Name:        "market_share",
			Description: "Brand market share analysis",
			Keywords:    []string{"market share", "share", "competitive", "competition", "vs", "compare"},
			View:        "v_competitive_analysis",
			Columns:     "brand_name, our_brand, tbwa_client_brand, revenue, market_share_pct, category_share_pct",
			OrderBy:     desc("revenue"),
			Limit:       15,
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "brand_name", YField: "market_share_pct"},
		},
		{
			Name:        "funnel_analysis",
			Description: "Purchase funnel stages",
			Keywords:    []string{"funnel", "conversion", "stage", "journey", "path"},
			View:        "v_funnel_analysis",
			Columns:     "funnel_stage, tx_count, revenue, stage_pct",
			ChartType:   models.ChartBar,
			ChartConfig: ChartConfig{XField: "funnel_stage", YField: "tx_count"},
		},
	}
}

var suggestions = []string{
	"Show daily transaction trends",
	"Brand performance analysis",
	"Category breakdown",
	"Sales by region",
	"Store performance comparison",
	"Payment method distribution",
	"Consumer demographics",
	"Daypart analysis",
	"Market share by brand",
	"Age distribution of customers",
	"Revenue trends over time",
	"Top performing stores",
}

// Suggestions returns example questions for the query box.
func Suggestions() []string {
	out := make([]string, len(suggestions))
	copy(out, suggestions)
	return out
}
