package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// RetryConfig configures retry behaviour for embedding calls.
type RetryConfig struct {
	MaxRetries int           // Retries after the first attempt (0 = no retries)
	RetryDelay time.Duration // Initial delay between attempts
	MaxDelay   time.Duration // Caps exponential backoff
	Timeout    time.Duration // Per-attempt timeout (0 = none)
}

// RetryConfigFrom builds a RetryConfig from ingestion settings.
func RetryConfigFrom(cfg domain.IngestConfig) RetryConfig {
	return RetryConfig{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay.Duration,
		MaxDelay:   cfg.MaxDelay.Duration,
		Timeout:    cfg.EmbedTimeout.Duration,
	}
}

// Backoff returns the delay before the given retry (1-based) using
// exponential backoff capped at MaxDelay.
func (c RetryConfig) Backoff(retry int) time.Duration {
	delay := c.RetryDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// RetriesExhaustedError reports that every attempt failed transiently.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// errStopped is returned when the stop channel closes during backoff.
var errStopped = errors.New("stopped during backoff")

// withRetry runs call until it succeeds, fails permanently, or the retry
// budget is spent. Each attempt gets its own timeout; an attempt timing out
// counts as a transient failure. onRetry runs before each backoff sleep.
// Closing stop aborts the wait between attempts, never an attempt in flight.
func withRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	stop <-chan struct{},
	call func(context.Context) (T, error),
	onRetry func(retry int, delay time.Duration, err error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.Backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-stop:
				timer.Stop()
				return zero, errStopped
			case <-timer.C:
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		out, err := call(attemptCtx)
		cancel()

		if err == nil {
			return out, nil
		}

		// Parent context gone: the caller is shutting down.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !domain.IsTransient(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &RetriesExhaustedError{Attempts: cfg.MaxRetries + 1, Err: lastErr}
}
