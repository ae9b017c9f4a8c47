package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func always(error) bool { return true }

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	policy := NewPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Execute(context.Background(), always, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	policy := NewPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Execute(context.Background(), always, func() error {
		calls++
		return errTransient
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want wrapped transient error", err)
	}
}

func TestExecute_NonRetryableReturnsImmediately(t *testing.T) {
	policy := NewPolicy(5, time.Millisecond)
	fatal := errors.New("bad credentials")

	calls := 0
	err := policy.Execute(context.Background(), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func() error {
		calls++
		return fatal
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	// Non-retryable errors come back unwrapped.
	if err != fatal {
		t.Errorf("err = %v, want the original error", err)
	}
}

func TestExecute_ContextCancelStopsBackoff(t *testing.T) {
	policy := NewPolicy(10, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := policy.Execute(ctx, always, func() error {
		calls++
		return errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancel fired during backoff)", calls)
	}
}
