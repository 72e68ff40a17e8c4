package search

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_SucceedsWithoutRetry(t *testing.T) {
	var sleeps []time.Duration
	p := Policy{MaxAttempts: 3, BackoffBase: time.Second, Sleep: func(d time.Duration) { sleeps = append(sleeps, d) }}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", sleeps)
	}
}

func TestPolicy_LinearBackoff(t *testing.T) {
	var sleeps []time.Duration
	p := Policy{MaxAttempts: 3, BackoffBase: 2 * time.Second, Sleep: func(d time.Duration) { sleeps = append(sleeps, d) }}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Errorf("unexpected backoff schedule: %v", sleeps)
	}
}

func TestPolicy_ExhaustionReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 3, Sleep: func(time.Duration) {}}

	last := errors.New("attempt 3 failed")
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("earlier failure")
	})
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestPolicy_ContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 5, Sleep: func(time.Duration) {}}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls)
	}
}

func TestNewPolicy_Bounds(t *testing.T) {
	p := NewPolicy(0, time.Second)
	if p.MaxAttempts != 1 {
		t.Errorf("expected lower bound of 1 attempt, got %d", p.MaxAttempts)
	}
}
