// Package retry provides bounded retry with exponential backoff and jitter
// for outbound calls to upstream sources and providers.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. Delay for attempt n is
// min(Base * 2^n, Cap) plus up to 25% random jitter.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultPolicy suits upstream HTTP fetches: 3 attempts, 500ms base, 10s cap.
var DefaultPolicy = Policy{MaxAttempts: 3, Base: 500 * time.Millisecond, Cap: 10 * time.Second}

// Backoff returns the delay before the given zero-based attempt, jittered.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Do runs fn up to MaxAttempts times, sleeping the backoff delay between
// failures. The last error is returned once attempts are exhausted. Sleeps
// honour ctx cancellation.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
