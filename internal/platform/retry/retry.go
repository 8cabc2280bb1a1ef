package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule with a delay cap.
// MaxAttempts bounds the total number of calls; 0 or negative means
// retry until the context is done.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the dispatcher's defaults: 3 attempts, 1s base,
// capped at 30s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do calls fn until it succeeds, the attempt budget is exhausted, or ctx is
// done. Each failure sleeps for the current delay (with up to 25% jitter so
// concurrent workers do not retry in lockstep), then doubles it up to
// MaxDelay. The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return lastErr
		}

		sleep := delay + time.Duration(rand.Int63n(int64(delay)/4+1))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
