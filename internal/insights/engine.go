// Package insights serves canned or lightly live answers for common
// questions when the AI provider is skipped or unavailable.
package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/scout-dashboard/backend/internal/datasource"
	"github.com/scout-dashboard/backend/internal/metrics"
)

const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultQueueSize      = 32
	DefaultRefreshTimeout = 10 * time.Second

	pendingPenalty = 0.9
)

type Insight struct {
	Pattern     string     `json:"pattern"`
	Text        string     `json:"insight"`
	Confidence  float64    `json:"confidence"`
	DataSource  string     `json:"dataSource"`
	RefreshedAt *time.Time `json:"refreshedAt,omitempty"`
}

// RefreshError reports a failed background refresh.
type RefreshError struct {
	MatcherID string
	Err       error
	At        time.Time
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("insight %s refresh failed: %v", e.MatcherID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

type Config struct {
	CacheTTL       time.Duration
	QueueSize      int
	Workers        int
	RefreshTimeout time.Duration
	Logger         *zap.Logger
	Metrics        metrics.Sink
}

type cachedInsight struct {
	text      string
	expiresAt time.Time
}

type Engine struct {
	matchers []Matcher
	src      datasource.Source
	cfg      Config
	now      func() time.Time

	mu      sync.RWMutex
	cache   map[string]cachedInsight
	pending map[string]struct{}

	queue chan string
	errs  chan *RefreshError
	group singleflight.Group
}

func NewEngine(matchers []Matcher, src datasource.Source, cfg Config) *Engine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}

	return &Engine{
		matchers: append([]Matcher(nil), matchers...),
		src:      src,
		cfg:      cfg,
		now:      time.Now,
		cache:    make(map[string]cachedInsight),
		pending:  make(map[string]struct{}),
		queue:    make(chan string, cfg.QueueSize),
		errs:     make(chan *RefreshError, cfg.QueueSize),
	}
}

// Lookup returns the insight of the first matcher hit by the query, or nil.
// It never blocks on the data source.
func (e *Engine) Lookup(query string) *Insight {
	q := strings.ToLower(strings.TrimSpace(query))

	for i := range e.matchers {
		m := &e.matchers[i]
		if !m.matches(q) {
			continue
		}

		if text, refreshed, ok := e.cached(m.ID); ok {
			return &Insight{
				Pattern:     m.ID,
				Text:        text,
				Confidence:  m.BaseConfidence,
				DataSource:  m.DataSource,
				RefreshedAt: &refreshed,
			}
		}

		if m.Live == nil {
			return &Insight{
				Pattern:    m.ID,
				Text:       m.Text,
				Confidence: m.BaseConfidence,
				DataSource: m.DataSource,
			}
		}

		if e.src != nil {
			e.enqueue(m.ID)
		}

		pending := m.Pending
		if pending == "" {
			pending = genericPending
		}
		return &Insight{
			Pattern:    m.ID,
			Text:       pending,
			Confidence: m.BaseConfidence * pendingPenalty,
			DataSource: m.DataSource,
		}
	}

	return nil
}

// Start runs the refresh workers until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(ctx)
	}
}

// Errors publishes refresh failures. Sends never block; failures are
// dropped from the channel when nobody drains it. The engine itself logs
// them only at debug level, so the consumer owns the warning.
func (e *Engine) Errors() <-chan *RefreshError {
	return e.errs
}

// Warm refreshes every live matcher synchronously.
func (e *Engine) Warm(ctx context.Context) error {
	var errs []error
	for i := range e.matchers {
		m := &e.matchers[i]
		if m.Live == nil {
			continue
		}
		if err := e.refresh(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Patterns lists matcher ids in evaluation order.
func (e *Engine) Patterns() []string {
	ids := make([]string, len(e.matchers))
	for i, m := range e.matchers {
		ids[i] = m.ID
	}
	return ids
}

func (e *Engine) cached(id string) (string, time.Time, bool) {
	e.mu.RLock()
	entry, ok := e.cache[id]
	e.mu.RUnlock()

	if !ok || !e.now().Before(entry.expiresAt) {
		return "", time.Time{}, false
	}
	return entry.text, entry.expiresAt.Add(-e.cfg.CacheTTL), true
}

func (e *Engine) enqueue(id string) {
	e.mu.Lock()
	if _, queued := e.pending[id]; queued {
		e.mu.Unlock()
		return
	}
	e.pending[id] = struct{}{}
	e.mu.Unlock()

	select {
	case e.queue <- id:
	default:
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		e.cfg.Logger.Debug("Insight refresh queue full", zap.String("pattern", id))
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			if m := e.matcher(id); m != nil {
				refreshCtx, cancel := context.WithTimeout(ctx, e.cfg.RefreshTimeout)
				_ = e.refresh(refreshCtx, m)
				cancel()
			}

			e.mu.Lock()
			delete(e.pending, id)
			e.mu.Unlock()
		}
	}
}

func (e *Engine) matcher(id string) *Matcher {
	for i := range e.matchers {
		if e.matchers[i].ID == id {
			return &e.matchers[i]
		}
	}
	return nil
}

func (e *Engine) refresh(ctx context.Context, m *Matcher) error {
	v, err, _ := e.group.Do(m.ID, func() (any, error) {
		return m.Live(ctx, e.src)
	})
	if err != nil {
		e.fail(m.ID, err)
		return err
	}

	e.mu.Lock()
	e.cache[m.ID] = cachedInsight{text: v.(string), expiresAt: e.now().Add(e.cfg.CacheTTL)}
	size := len(e.cache)
	e.mu.Unlock()

	metrics.InsightCacheSize.Set(float64(size))
	e.cfg.Logger.Debug("Insight refreshed", zap.String("pattern", m.ID))
	return nil
}

func (e *Engine) fail(id string, err error) {
	e.cfg.Logger.Debug("Insight refresh failed", zap.String("pattern", id), zap.Error(err))
	e.cfg.Metrics.IncrementCounter(metrics.InsightRefreshFailures)

	select {
	case e.errs <- &RefreshError{MatcherID: id, Err: err, At: e.now()}:
	default:
	}
}
