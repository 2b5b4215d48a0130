// Package cache stores NLQ answers keyed by normalized query text.
package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/storage/models"
)

// Store is the backing key/value store for cached answers.
type Store interface {
	Get(ctx context.Context, key string) (*models.NLQResponse, bool, error)
	Set(ctx context.Context, key string, resp *models.NLQResponse, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type QueryCache struct {
	store  Store
	logger *zap.Logger
}

func NewQueryCache(store Store, logger *zap.Logger) *QueryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCache{store: store, logger: logger}
}

// NormalizeKey lowercases, trims and collapses whitespace runs.
func NormalizeKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get returns the cached answer marked as coming from the cache. Store
// errors are logged and reported as a miss.
func (c *QueryCache) Get(ctx context.Context, query string) *models.NLQResponse {
	resp, ok, err := c.store.Get(ctx, NormalizeKey(query))
	if err != nil {
		c.logger.Warn("Query cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	out := copyResponse(resp)
	out.Source = models.SourceCache
	return out
}

func (c *QueryCache) Set(ctx context.Context, query string, resp *models.NLQResponse, ttl time.Duration) {
	if err := c.store.Set(ctx, NormalizeKey(query), resp, ttl); err != nil {
		c.logger.Warn("Query cache write failed", zap.Error(err))
	}
}
