// Package patterns maps free-text questions onto a fixed registry of safe
// view reads and picks a chart type for the result.
package patterns

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scout-dashboard/backend/internal/datasource"
	"github.com/scout-dashboard/backend/internal/storage/models"
)

// UnmatchedConfidence is reported when no keyword of any pattern hits.
const UnmatchedConfidence = 10.0

var ErrInvalidRegistry = errors.New("invalid pattern registry")

type Match struct {
	Pattern         Pattern  `json:"pattern"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matchedKeywords"`
}

type Matcher struct {
	patterns []Pattern
}

// NewMatcher validates the registry and takes a private copy of it.
func NewMatcher(patterns []Pattern) (*Matcher, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no patterns", ErrInvalidRegistry)
	}

	seen := make(map[string]struct{}, len(patterns))
	owned := make([]Pattern, len(patterns))
	for i, p := range patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: pattern %d has no name", ErrInvalidRegistry, i)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate pattern %q", ErrInvalidRegistry, p.Name)
		}
		seen[p.Name] = struct{}{}

		if len(p.Keywords) == 0 {
			return nil, fmt.Errorf("%w: pattern %q has no keywords", ErrInvalidRegistry, p.Name)
		}
		if !datasource.IsAllowedView(p.View) {
			return nil, fmt.Errorf("%w: pattern %q targets %s", ErrInvalidRegistry, p.Name, p.View)
		}

		p.Keywords = append([]string(nil), p.Keywords...)
		if p.OrderBy != nil {
			order := *p.OrderBy
			p.OrderBy = &order
		}
		owned[i] = p
	}

	return &Matcher{patterns: owned}, nil
}

// Match scores every pattern against the query. A pattern hitting more
// keywords wins; ties go to the higher share of its own keywords.
func (m *Matcher) Match(query string) Match {
	q := strings.ToLower(strings.TrimSpace(query))

	best := Match{Pattern: m.patterns[0]}

	for _, p := range m.patterns {
		var matched []string
		score := 0
		for _, kw := range p.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				matched = append(matched, kw)
				score += len(kw)
			}
		}
		if score == 0 {
			continue
		}

		confidence := float64(len(matched)) / float64(len(p.Keywords)) * 100
		if len(matched) > len(best.MatchedKeywords) ||
			(len(matched) == len(best.MatchedKeywords) && confidence > best.Confidence) {
			best = Match{Pattern: p, Confidence: confidence, MatchedKeywords: matched}
		}
	}

	if len(best.MatchedKeywords) == 0 {
		best.Confidence = UnmatchedConfidence
		best.MatchedKeywords = []string{}
	}

	return best
}

// Patterns returns a copy of the registry in order.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

func (m *Matcher) Names() []string {
	names := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		names[i] = p.Name
	}
	return names
}

type chartRule struct {
	chart    models.ChartType
	keywords []string
}

// Evaluated in order; the first rule with a hit decides.
var chartRules = []chartRule{
	{models.ChartLine, []string{"trend", "over time", "timeline", "history", "progression"}},
	{models.ChartPie, []string{"distribution", "breakdown", "share", "proportion", "percentage", "split"}},
	{models.ChartArea, []string{"volume", "cumulative", "total", "stacked"}},
	{models.ChartBar, []string{"compare", "comparison", "ranking", "top", "best", "worst"}},
	{models.ChartScatter, []string{"correlation", "relationship", "vs", "against"}},
}

// DetectChartType lets wording in the query override the pattern's chart.
func DetectChartType(query string, fallback models.ChartType) models.ChartType {
	q := strings.ToLower(query)
	for _, rule := range chartRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				return rule.chart
			}
		}
	}
	return fallback
}

var defaultMatcher = mustDefault()

func mustDefault() *Matcher {
	m, err := NewMatcher(Registry())
	if err != nil {
		panic(err)
	}
	return m
}

func Default() *Matcher {
	return defaultMatcher
}

// MatchPattern matches against the default registry.
func MatchPattern(query string) Match {
	return defaultMatcher.Match(query)
}
