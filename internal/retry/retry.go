package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy handles retry logic with exponential backoff.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewPolicy creates a new retry policy.
func NewPolicy(maxAttempts int, baseDelay time.Duration) *Policy {
	return &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    30 * time.Second,
	}
}

// Execute runs fn until it succeeds, the attempts are exhausted, or it
// fails with an error retryable reports false for. That last error is
// returned unwrapped so callers can still inspect it.
func (p *Policy) Execute(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var lastErr error
	delay := p.baseDelay

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		lastErr = err

		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * 1.5)
			if delay > p.maxDelay {
				delay = p.maxDelay
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.maxAttempts, lastErr)
}
