package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEntityRetriesExhausted is returned when an entity write keeps conflicting after every attempt.
var ErrEntityRetriesExhausted = errors.New("entity write retries exhausted")

// RetryPolicy bounds the optimistic retry loop around entity writes.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the default entity retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or MaxAttempts is reached.
// Delays double from BaseDelay and are capped at MaxDelay.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)
	backoff := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			if p.MaxDelay > 0 && backoff > p.MaxDelay {
				backoff = p.MaxDelay
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrEntityRetriesExhausted, attempts, err)
}
