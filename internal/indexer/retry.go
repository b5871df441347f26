package indexer

import (
	"context"
	"time"

	"github.com/hyperjump/codesearch/internal/config"
)

// retryWithBackoff calls fn up to cfg.MaxAttempts times, sleeping with exponential
// backoff between attempts. Context cancellation stops retrying immediately.
func retryWithBackoff[T any](ctx context.Context, cfg config.RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.InitialDelay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				if cfg.Multiplier > 1 {
					backoff = time.Duration(float64(backoff) * cfg.Multiplier)
				}
				if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
					backoff = cfg.MaxDelay
				}
			}
		}
	}
	return zero, lastErr
}
