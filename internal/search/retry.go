package search

import (
	"context"
	"time"
)

// Policy describes bounded retry with increasing backoff for the external
// search invocation. It is passed into the invoker rather than hard-coded so
// tests can drive it with a fake sleep.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration

	// Sleep is the wait function between attempts (injectable for tests)
	Sleep func(time.Duration)
}

// NewPolicy creates a retry policy with sane lower bounds
func NewPolicy(maxAttempts int, backoffBase time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		Sleep:       time.Sleep,
	}
}

// Do runs op up to MaxAttempts times, backing off linearly between attempts.
// The last error is returned once attempts are exhausted; it is never
// downgraded to an empty result.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = op(); err == nil {
			return nil
		}
		if attempt < p.MaxAttempts {
			p.Sleep(time.Duration(attempt) * p.BackoffBase)
		}
	}
	return err
}
