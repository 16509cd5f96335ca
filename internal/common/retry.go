package common

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
}

// Retry runs op with exponential backoff until it succeeds, the retry
// budget is exhausted, or ctx is cancelled. Every error is treated as
// retryable.
func Retry(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, defaultBackoff(), func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
