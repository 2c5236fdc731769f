package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy describes an exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable decides whether an error is transient. Nil retries nothing.
	Retryable func(error) bool
}

// SQLiteRetry makes up to three attempts on SQLite lock contention, waiting
// 100ms and then 200ms between them.
var SQLiteRetry = RetryPolicy{
	Attempts:  3,
	BaseDelay: 100 * time.Millisecond,
	Retryable: IsSQLiteConflictError,
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The delay doubles after every failed attempt.
func Retry(ctx context.Context, op string, p RetryPolicy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || i == attempts-1 {
			break
		}

		delay := p.BaseDelay * time.Duration(1<<i)
		slog.Debug("Retrying after transient error", "op", op, "attempt", i+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
