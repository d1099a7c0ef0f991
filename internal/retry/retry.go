package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config tunes the exponential backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Retrier executes operations with exponential backoff. The delay doubles
// after every failed attempt; waits are cancellable through the context.
type Retrier struct {
	cfg         Config
	isRetryable Classifier
	logger      *slog.Logger
}

// New builds a Retrier. A nil classifier retries every error.
func New(cfg Config, classifier Classifier, logger *slog.Logger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Retrier{cfg: cfg, isRetryable: classifier, logger: logger}
}

// Attempts returns the configured attempt budget.
func (r *Retrier) Attempts() int { return r.cfg.MaxAttempts }

// Do runs operation until it succeeds, a non-retryable error occurs, the
// attempt budget is spent, or the context is cancelled.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		retryable := r.isRetryable == nil || r.isRetryable(lastErr)
		if !retryable || attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)
		if r.logger != nil {
			r.logger.Warn("attempt failed, backing off",
				"attempt", attempt, "delay", delay, "error", lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Delay returns the backoff for the given 1-based attempt number: the base
// delay doubled attempt-1 times, capped at MaxDelay when one is set.
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := r.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return delay
}
