package insights

import (
	"context"
	"regexp"

	"github.com/scout-dashboard/backend/internal/datasource"
)

// LiveFunc builds an insight from current aggregates.
type LiveFunc func(ctx context.Context, src datasource.Source) (string, error)

// Matcher is one fallback rule. With Live unset it answers with Text;
// otherwise Pending is served until a background refresh lands.
type Matcher struct {
	ID             string
	Triggers       []*regexp.Regexp
	Text           string
	Live           LiveFunc
	Pending        string
	DataSource     string
	BaseConfidence float64
}

func (m Matcher) matches(query string) bool {
	for _, re := range m.Triggers {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}

func triggers(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}

const genericPending = "Please try a more specific query for detailed insights."

// DefaultMatchers returns the fallback rules in evaluation order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{
			ID: "peak_hours",
			Triggers: triggers(
				`peak|busy|rush|traffic|when.*most`,
				`best.*time|highest.*volume`,
				`busy.*hours?|popular.*time`,
			),
			Text:           "Peak transaction hours in Philippine sari-sari stores are typically 7-9 AM (morning rush) and 5-7 PM (evening rush), together accounting for approximately 60% of daily volume. Afternoon hours (12-2 PM) also see moderate activity during lunch breaks.",
			DataSource:     "v_daypart_analysis",
			BaseConfidence: 0.85,
		},
		{
			ID: "top_products",
			Triggers: triggers(
				`top|best.*sell|popular|most.*sold`,
				`leading.*product|best.*perform`,
				`what.*sells?.*most`,
			),
			Live:           topCategories,
			Pending:        "Top product categories include Beverages, Snacks, and Personal Care items, which together account for the majority of store revenue.",
			DataSource:     "v_product_mix",
			BaseConfidence: 0.9,
		},
		{
			ID: "regional_performance",
			Triggers: triggers(
				`region|area|location|geographic`,
				`where.*best|which.*region`,
				`ncr|visayas|mindanao|luzon`,
			),
			Live:           topRegions,
			Pending:        "NCR leads in transaction volume, followed by CALABARZON and Central Luzon regions.",
			DataSource:     "v_geo_regions",
			BaseConfidence: 0.85,
		},
		{
			ID: "payment_methods",
			Triggers: triggers(
				`payment|pay.*method|cash|gcash|maya`,
				`how.*pay|digital.*wallet`,
				`e-wallet|mobile.*pay`,
			),
			Text:           "Cash remains the dominant payment method in sari-sari stores at approximately 75% of transactions. Digital wallets (GCash, Maya) are growing rapidly, now accounting for 20% of transactions, particularly in urban areas. Card payments represent about 5%, mainly in larger stores.",
			DataSource:     "v_payment_methods",
			BaseConfidence: 0.8,
		},
		{
			ID: "revenue_trends",
			Triggers: triggers(
				`trend|growth|performance|revenue`,
				`how.*doing|sales.*going`,
				`week|month|year.*compare`,
			),
			Text:           "Transaction trends show consistent patterns: weekdays see steady volume with peaks on Fridays, while weekends typically see 15-20% higher transaction counts. Month-end periods (25th-5th) show elevated activity coinciding with salary disbursements.",
			DataSource:     "v_tx_trends",
			BaseConfidence: 0.75,
		},
		{
			ID: "basket_size",
			Triggers: triggers(
				`basket|average.*purchase|transaction.*value`,
				`how.*much.*spend|typical.*order`,
				`avg|average.*amount`,
			),
			Text:           "Average basket value in sari-sari stores is approximately ₱85-120, varying by location and time of day. Urban stores see slightly higher averages (₱100-150), while rural stores average ₱60-90. Morning transactions tend to have smaller baskets than evening purchases.",
			DataSource:     "scout_stats_summary",
			BaseConfidence: 0.8,
		},
		{
			ID: "customer_profile",
			Triggers: triggers(
				`customer|consumer|shopper|demographic`,
				`who.*buys?|buyer.*profile`,
				`age|gender|income`,
			),
			Text:           "The typical sari-sari store customer profile: 60% female, predominantly aged 25-45, middle-income bracket. Most customers visit 2-3 times daily for small, immediate-need purchases. Repeat customers make up 70% of transactions.",
			DataSource:     "v_consumer_profile",
			BaseConfidence: 0.75,
		},
		{
			ID: "store_count",
			Triggers: triggers(
				`how.*many.*store|store.*count|active.*store`,
				`number.*of.*store|total.*store`,
			),
			Live:           activeStores,
			Pending:        "The Scout network covers thousands of active sari-sari stores across all major Philippine regions.",
			DataSource:     "scout_stats_summary",
			BaseConfidence: 0.9,
		},
	}
}
