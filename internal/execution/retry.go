package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryPolicy retries a critical exchange call a bounded number of times
// with a fixed delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns 3 attempts spaced 500ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// retryable reports whether err should be attempted again.
func retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func build[R any](p RetryPolicy, op string, logger *slog.Logger) retrypolicy.RetryPolicy[R] {
	b := retrypolicy.NewBuilder[R]().
		HandleIf(func(_ R, err error) bool { return retryable(err) }).
		WithMaxAttempts(p.attempts()).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[R]) {
			logger.Warn("retrying exchange call",
				"op", op,
				"attempt", e.Attempts(),
				"err", e.LastError(),
			)
		})
	if p.Delay > 0 {
		b = b.WithDelay(p.Delay)
	}
	return b.Build()
}

// Run executes fn under the policy and returns the last error once attempts are exhausted.
func (p RetryPolicy) Run(ctx context.Context, op string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	return failsafe.With[any](build[any](p, op, logger)).
		WithContext(ctx).
		Run(func() error { return fn(ctx) })
}

// Get executes fn under the policy and returns its result.
func Get[T any](ctx context.Context, p RetryPolicy, op string, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return failsafe.With[T](build[T](p, op, logger)).
		WithContext(ctx).
		Get(func() (T, error) { return fn(ctx) })
}
