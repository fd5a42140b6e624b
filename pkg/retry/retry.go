package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/santehsupply/orders-api/pkg/logger"
)

// RetryableFunc defines a function that can be retried
type RetryableFunc func() error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	RetryableErrors []error // empty means every error is retryable
}

// Retry runs fn until it succeeds, exhausts MaxAttempts, or hits a
// non-retryable error. The context cancels both calls and backoff waits.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		if !isRetryable(err, cfg.RetryableErrors) {
			cfg.Logger.Warn("Non-retryable error encountered, giving up",
				"error", err,
				"attempt", attempt)
			return err
		}

		backoff := cfg.BackoffStrategy.NextBackoff(attempt)

		cfg.Logger.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", cfg.MaxAttempts,
			"backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d retry attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}
