package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the backoff; zero means uncapped.
	MaxDelay    time.Duration
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error)
	Logger      *zap.Logger
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Logger:     zap.NewNop(),
	}
}

// WithRetry runs operation until it succeeds, the retry budget is spent or
// ShouldRetry rejects the error. The last error is returned unchanged.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, operation func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := operation(ctx)
		if err == nil {
			if attempt > 0 && cfg.Logger != nil {
				cfg.Logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt+1),
				)
			}
			return result, nil
		}

		if attempt >= cfg.MaxRetries || !shouldRetry(cfg, err) {
			if cfg.Logger != nil && attempt < cfg.MaxRetries {
				cfg.Logger.Debug("Error not retryable",
					zap.Error(err),
					zap.Int("attempt", attempt+1),
				)
			}
			return zero, err
		}

		delay := Backoff(cfg.BaseDelay, cfg.MaxDelay, attempt)

		if cfg.Logger != nil {
			cfg.Logger.Warn("Operation failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", cfg.MaxRetries),
				zap.Duration("delay", delay),
			)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Do is WithRetry for operations without a result.
func Do(ctx context.Context, cfg RetryConfig, operation func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// Backoff returns min(base*2^attempt, max) for a zero-based attempt.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func shouldRetry(cfg RetryConfig, err error) bool {
	if cfg.ShouldRetry == nil {
		return true
	}
	return cfg.ShouldRetry(err)
}
