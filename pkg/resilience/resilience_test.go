package resilience

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scout-dashboard/backend/pkg/apierror"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	const maxRetries = 3
	var calls, retries int

	cfg := RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			retries++
			if attempt != retries {
				t.Errorf("attempt = %d, want %d", attempt, retries)
			}
		},
	}

	got, err := WithRetry(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls <= maxRetries {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q, want ok", got)
	}
	if retries != maxRetries {
		t.Fatalf("onRetry called %d times, want %d", retries, maxRetries)
	}
	if calls != maxRetries+1 {
		t.Fatalf("operation called %d times, want %d", calls, maxRetries+1)
	}
}

func TestWithRetryReturnsLastError(t *testing.T) {
	var calls int
	cfg := RetryConfig{MaxRetries: 2}

	_, err := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("still broken")
	})
	if err == nil || err.Error() != "still broken" {
		t.Fatalf("err = %v, want still broken", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryHonoursPredicate(t *testing.T) {
	var calls, retries int
	cfg := RetryConfig{
		MaxRetries: 5,
		ShouldRetry: func(err error) bool {
			return !strings.Contains(err.Error(), "invalid")
		},
		OnRetry: func(int, error) { retries++ },
	}

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("invalid request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || retries != 0 {
		t.Fatalf("calls = %d retries = %d, want 1 and 0", calls, retries)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: time.Hour}

	var calls int32
	go func() {
		for atomic.LoadInt32(&calls) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := Do(ctx, cfg, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(500*time.Millisecond, 10*time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := Backoff(0, time.Second, 3); got != 0 {
		t.Errorf("zero base should not wait, got %v", got)
	}
}

func TestWithTimeoutRejectsSlowOperation(t *testing.T) {
	const timeout = 20 * time.Millisecond
	start := time.Now()

	_, err := WithTimeout(context.Background(), timeout, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, nil)

	elapsed := time.Since(start)
	if !apierror.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed > timeout+200*time.Millisecond {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestWithTimeoutUsesCallerError(t *testing.T) {
	custom := errors.New("ai too slow")
	_, err := WithTimeout(context.Background(), time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, custom)
	if !errors.Is(err, custom) {
		t.Fatalf("err = %v, want custom error", err)
	}
}

func TestWithTimeoutPassesThroughFastResult(t *testing.T) {
	type payload struct{ N int }
	want := &payload{N: 42}

	got, err := WithTimeout(context.Background(), time.Second, func(context.Context) (*payload, error) {
		return want, nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatal("result should be returned untouched")
	}
}

func TestRetryWrappingTimeoutGetsFreshWindow(t *testing.T) {
	var calls int
	cfg := RetryConfig{MaxRetries: 1}

	got, err := WithRetry(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		delay := 100 * time.Millisecond
		if calls > 1 {
			delay = 0
		}
		return WithTimeout(ctx, 30*time.Millisecond, func(ctx context.Context) (string, error) {
			select {
			case <-time.After(delay):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" || calls != 2 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}
