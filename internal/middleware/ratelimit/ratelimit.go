package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	DefaultWindow          = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

type window struct {
	count int
	start time.Time
}

type Result struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

type Config struct {
	Window          time.Duration
	CleanupInterval time.Duration
	Logger          *zap.Logger
}

// Limiter counts per key in hard fixed windows. A window opens on the first
// hit after the previous one has lapsed, so up to twice the limit can pass
// around a window boundary.
type Limiter struct {
	windows map[string]*window
	mu      sync.Mutex
	length  time.Duration
	now     func() time.Time
	logger  *zap.Logger

	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Limiter{
		windows:       make(map[string]*window),
		length:        cfg.Window,
		now:           time.Now,
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Check records one request for key and reports whether it fits the limit.
func (l *Limiter) Check(key string, limit int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.current(key, now)
	if w == nil {
		l.windows[key] = &window{count: 1, start: now}
		return Result{Allowed: true, Remaining: limit - 1}
	}

	if w.count >= limit {
		return Result{Allowed: false, Remaining: 0, RetryAfterSeconds: l.retryAfter(w, now)}
	}

	w.count++
	return Result{Allowed: true, Remaining: limit - w.count}
}

// Usage is the amount charged to key in its current window.
func (l *Limiter) Usage(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w := l.current(key, l.now()); w != nil {
		return w.count
	}
	return 0
}

// Add charges n units to key, opening a window if needed. A negative n
// refunds units; the count never drops below zero and a refund never opens
// a window.
func (l *Limiter) Add(key string, n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.current(key, now)
	if w == nil {
		if n <= 0 {
			return 0
		}
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count += n
	if w.count < 0 {
		w.count = 0
	}
	return w.count
}

// RetryAfter reports the seconds until key's window lapses.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if w := l.current(key, now); w != nil {
		return l.retryAfter(w, now)
	}
	return 0
}

// Sweep drops lapsed windows and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > l.length {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		l.cleanupTicker.Stop()
		close(l.done)
	})
}

// Middleware limits requests per X-User-ID, falling back to the client IP.
func (l *Limiter) Middleware(limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()

		userID := c.Get("X-User-ID")
		if userID != "" {
			key = userID
		}

		res := l.Check(key, limit)
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			l.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "Rate limit exceeded. Please try again later.",
				"code":       "RATE_LIMITED",
				"retryAfter": res.RetryAfterSeconds,
			})
		}

		return c.Next()
	}
}

func (l *Limiter) current(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) > l.length {
		return nil
	}
	return w
}

func (l *Limiter) retryAfter(w *window, now time.Time) int {
	secs := int(math.Ceil(w.start.Add(l.length).Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *Limiter) cleanup() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanupTicker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.Debug("Rate limit windows swept", zap.Int("removed", removed))
			}
		}
	}
}
