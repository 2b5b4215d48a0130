package nlq

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scout-dashboard/backend/internal/cache"
	"github.com/scout-dashboard/backend/internal/insights"
	"github.com/scout-dashboard/backend/internal/llm"
	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/internal/middleware/ratelimit"
	"github.com/scout-dashboard/backend/internal/storage/models"
	"github.com/scout-dashboard/backend/pkg/apierror"
)

type stubProvider struct {
	mu     sync.Mutex
	calls  int
	answer llm.Answer
	err    error
	block  bool
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Ask(ctx context.Context, _ string, _ llm.QueryContext) (*llm.Answer, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	a := p.answer
	return &a, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recorder struct {
	mu      sync.Mutex
	records []*models.QueryRecord
}

func (r *recorder) InsertQueryRecord(_ context.Context, rec *models.QueryRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	svc       *Service
	provider  *stubProvider
	collector *metrics.Collector
	history   *recorder
}

func newFixture(t *testing.T, cfg Config, provider llm.Provider) *fixture {
	t.Helper()

	requests := ratelimit.New(ratelimit.Config{})
	tokens := ratelimit.New(ratelimit.Config{})
	t.Cleanup(requests.Stop)
	t.Cleanup(tokens.Stop)

	f := &fixture{collector: metrics.NewCollector(), history: &recorder{}}
	if sp, ok := provider.(*stubProvider); ok {
		f.provider = sp
	}

	svc, err := NewService(cfg, Dependencies{
		Provider:    provider,
		Insights:    insights.NewEngine(insights.DefaultMatchers(), nil, insights.Config{}),
		Cache:       cache.NewQueryCache(cache.NewMemoryStore(10), nil),
		Limiter:     requests,
		TokenBudget: tokens,
		History:     f.history,
		Metrics:     f.collector,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.svc = svc
	return f
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestQueryEndToEndWithSimulatedProvider(t *testing.T) {
	f := newFixture(t, fastConfig(), llm.NewSimulatedProvider(0, 0))

	resp, err := f.svc.Query(context.Background(), "Show sales by day", Options{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Source != models.SourceAI && resp.Source != models.SourceFallback {
		t.Fatalf("source = %s", resp.Source)
	}
	if resp.Confidence <= 0 || resp.Answer == "" {
		t.Fatalf("response = %+v", resp)
	}
	if len(f.history.records) != 1 || f.history.records[0].RequestID != "req-1" {
		t.Fatalf("history = %+v", f.history.records)
	}
}

func TestQueryCachesConfidentAnswers(t *testing.T) {
	provider := &stubProvider{answer: llm.Answer{Text: "Fridays lead.", Confidence: 0.9, TokensUsed: 80}}
	f := newFixture(t, fastConfig(), provider)
	ctx := context.Background()

	first, _ := f.svc.Query(ctx, "Show sales by day", Options{})
	if first.Source != models.SourceAI || first.TokensUsed != 80 {
		t.Fatalf("first = %+v", first)
	}

	second, _ := f.svc.Query(ctx, "  show SALES by day ", Options{})
	if second.Source != models.SourceCache || second.Answer != "Fridays lead." {
		t.Fatalf("second = %+v", second)
	}
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}

	third, _ := f.svc.Query(ctx, "Show sales by day", Options{SkipCache: true})
	if third.Source != models.SourceAI || provider.Calls() != 2 {
		t.Fatalf("skip cache: source = %s calls = %d", third.Source, provider.Calls())
	}

	if f.collector.Counter(metrics.NLQCacheHits) != 1 {
		t.Fatalf("cache hits = %v", f.collector.Counter(metrics.NLQCacheHits))
	}
}

func TestQueryDoesNotCacheLowConfidence(t *testing.T) {
	provider := &stubProvider{answer: llm.Answer{Text: "Not sure.", Confidence: 0.6}}
	f := newFixture(t, fastConfig(), provider)

	for i := 0; i < 2; i++ {
		resp, _ := f.svc.Query(context.Background(), "Show sales by day", Options{})
		if resp.Source != models.SourceAI {
			t.Fatalf("call %d source = %s", i+1, resp.Source)
		}
	}
	if provider.Calls() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.Calls())
	}
}

func TestQueryRateLimited(t *testing.T) {
	cfg := fastConfig()
	cfg.RequestsPerWindow = 1
	provider := &stubProvider{answer: llm.Answer{Text: "ok", Confidence: 0.6}}
	f := newFixture(t, cfg, provider)
	ctx := context.Background()

	if _, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u1"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	resp, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u1"})
	if !apierror.IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limited", err)
	}
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		t.Fatalf("retry after missing: %+v", apiErr)
	}
	if resp == nil || resp.Source != models.SourceFallback || resp.Answer == "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Metadata == nil || !strings.Contains(strings.ToLower(resp.Metadata.Error), "rate limit") {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}
	if f.collector.Counter(metrics.NLQRateLimited) != 1 || f.collector.Counter(metrics.NLQFallbacks) != 1 {
		t.Fatalf("counters = %v", f.collector.Counters())
	}

	if _, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u2"}); err != nil {
		t.Fatalf("other user limited: %v", err)
	}
}

func TestQueryTimeoutFallsBack(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	provider := &stubProvider{block: true}
	f := newFixture(t, cfg, provider)

	resp, err := f.svc.Query(context.Background(), "Show sales by day", Options{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("timeouts must not surface as errors: %v", err)
	}
	if resp.Source != models.SourceFallback || resp.Confidence != genericConfidence {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(resp.Metadata.Error, "timed out") {
		t.Fatalf("metadata error = %q", resp.Metadata.Error)
	}
	if provider.Calls() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.Calls())
	}
	if f.collector.Counter(metrics.NLQTimeouts) != 2 || f.collector.Counter(metrics.NLQRetries) != 1 {
		t.Fatalf("counters = %v", f.collector.Counters())
	}
	if resp.LatencyMS < 40 {
		t.Fatalf("latency = %dms, want at least two timeout windows", resp.LatencyMS)
	}
}

func TestQueryDoesNotRetryInvalidRequests(t *testing.T) {
	provider := &stubProvider{err: errors.New("invalid provider request")}
	f := newFixture(t, fastConfig(), provider)

	resp, _ := f.svc.Query(context.Background(), "Show sales by day", Options{})
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}
	if resp.Metadata.Error != "invalid provider request" {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
}

func TestQueryHighConfidenceFallbackSkipsProvider(t *testing.T) {
	provider := &stubProvider{answer: llm.Answer{Text: "ai", Confidence: 0.9}}
	f := newFixture(t, fastConfig(), provider)

	resp, err := f.svc.Query(context.Background(), "When are the peak hours?", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != models.SourceFallback || resp.TokensUsed != 0 || resp.Confidence != 0.85 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Metadata.QueryType != "peak_hours" || resp.Metadata.DataRange != "v_daypart_analysis" {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
	if provider.Calls() != 0 {
		t.Fatal("provider should not be called")
	}
}

func TestQueryDegradedInsightOnFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.ConfidenceThreshold = 0.95
	cfg.MaxRetries = 0
	provider := &stubProvider{err: errors.New("upstream exploded")}
	f := newFixture(t, cfg, provider)

	resp, _ := f.svc.Query(context.Background(), "When are the peak hours?", Options{})
	if resp.Source != models.SourceFallback || resp.Metadata.QueryType != "peak_hours" {
		t.Fatalf("response = %+v", resp)
	}
	if want := 0.85 * degradedFactor; math.Abs(resp.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", resp.Confidence, want)
	}
	if resp.Metadata.Error != "upstream exploded" || resp.Metadata.Cached == nil || *resp.Metadata.Cached {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
}

func TestQueryTokenBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.TokensPerRequest = 200
	cfg.TokensPerUserWindow = 300
	provider := &stubProvider{answer: llm.Answer{Text: "ok", Confidence: 0.6, TokensUsed: 150}}
	f := newFixture(t, cfg, provider)
	ctx := context.Background()

	if _, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u"}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u"})
	if !apierror.IsRateLimited(err) || !strings.Contains(err.Error(), "budget") {
		t.Fatalf("err = %v, want budget denial", err)
	}
	if resp.Source != models.SourceFallback || provider.Calls() != 1 {
		t.Fatalf("response = %+v calls = %d", resp, provider.Calls())
	}
}

func TestQueryCacheHitSpendsNoTokens(t *testing.T) {
	provider := &stubProvider{answer: llm.Answer{Text: "Fridays lead.", Confidence: 0.9, TokensUsed: 80}}
	f := newFixture(t, fastConfig(), provider)
	ctx := context.Background()

	_, _ = f.svc.Query(ctx, "Show sales by day", Options{})
	second, _ := f.svc.Query(ctx, "Show sales by day", Options{})
	if second.Source != models.SourceCache || second.TokensUsed != 80 {
		t.Fatalf("second = %+v", second)
	}

	s, ok := f.collector.Summary(metrics.NLQTokensUsed)
	if !ok || s.Count != 1 {
		t.Fatalf("token samples = %+v, want 1", s)
	}
	if got := []int{f.history.records[0].TokensUsed, f.history.records[1].TokensUsed}; got[0] != 80 || got[1] != 0 {
		t.Fatalf("history tokens = %v, want [80 0]", got)
	}
}

type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	calls   chan struct{}
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Ask(ctx context.Context, _ string, _ llm.QueryContext) (*llm.Answer, error) {
	p.calls <- struct{}{}
	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llm.Answer{Text: "ok", Confidence: 0.6, TokensUsed: 150}, nil
}

func TestQueryTokenBudgetReservedDuringCall(t *testing.T) {
	cfg := fastConfig()
	cfg.TokensPerRequest = 200
	cfg.TokensPerUserWindow = 300
	provider := &gatedProvider{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		calls:   make(chan struct{}, 4),
	}
	f := newFixture(t, cfg, provider)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u"})
		done <- err
	}()
	<-provider.entered

	_, err := f.svc.Query(ctx, "Show sales by day", Options{UserID: "u", SkipCache: true})
	if !apierror.IsRateLimited(err) {
		t.Fatalf("concurrent call err = %v, want budget denial", err)
	}

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if n := len(provider.calls); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
}

func TestQueryEmitsOneRecordPerCall(t *testing.T) {
	provider := &stubProvider{answer: llm.Answer{Text: "ok", Confidence: 0.9}}
	f := newFixture(t, fastConfig(), provider)
	ctx := context.Background()

	queries := []string{"Show sales by day", "Show sales by day", "peak hours"}
	for _, q := range queries {
		_, _ = f.svc.Query(ctx, q, Options{})
	}

	if got := len(f.history.records); got != len(queries) {
		t.Fatalf("history records = %d, want %d", got, len(queries))
	}
	if s, ok := f.collector.Summary(metrics.NLQLatencyMS); !ok || s.Count != len(queries) {
		t.Fatalf("latency samples = %+v", s)
	}
	sources := []models.Source{f.history.records[0].Source, f.history.records[1].Source, f.history.records[2].Source}
	want := []models.Source{models.SourceAI, models.SourceCache, models.SourceFallback}
	for i := range want {
		if sources[i] != want[i] {
			t.Fatalf("sources = %v, want %v", sources, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := map[string]bool{
		"provider rate limit reached": false,
		"Invalid provider request":    false,
		"connection reset by peer":    true,
		"Operation timed out":         true,
	}
	for msg, want := range tests {
		if got := Retryable(errors.New(msg)); got != want {
			t.Errorf("Retryable(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestNewServiceRequiresProvider(t *testing.T) {
	if _, err := NewService(DefaultConfig(), Dependencies{}); err == nil {
		t.Fatal("expected error without provider")
	}
}
