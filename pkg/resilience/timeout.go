package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/scout-dashboard/backend/pkg/apierror"
)

// WithTimeout races operation against a timer. When the timer wins the
// operation's context is cancelled and its result is discarded; the
// operation must tolerate being abandoned. A nil timeoutErr yields a
// TIMEOUT API error.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, operation func(ctx context.Context) (T, error), timeoutErr error) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := operation(opCtx)
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		if timeoutErr != nil {
			return zero, timeoutErr
		}
		return zero, apierror.New(apierror.CodeTimeout,
			fmt.Sprintf("Operation timed out after %dms", timeout.Milliseconds()),
			apierror.Recoverable(),
		)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
