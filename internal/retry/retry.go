// Package retry provides bounded retry with fixed or exponential
// delay. Ingestion fetches and the streaming reconnect loop share it.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeExponential Mode = "exponential"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Mode        Mode
}

// DelayFor returns the sleep before retrying after the given 1-based
// failed attempt.
func (p Policy) DelayFor(attempt int) time.Duration {
	if p.Mode == ModeExponential {
		return time.Duration(float64(p.Delay) * math.Pow(2, float64(attempt-1)))
	}
	return p.Delay
}

// Do runs fn until it succeeds or the policy's attempts are exhausted,
// sleeping between attempts. The context cancels the wait; the last
// error is propagated.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-time.After(policy.DelayFor(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}
