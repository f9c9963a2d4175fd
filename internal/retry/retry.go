package retry

import (
	"context"
	"time"
)

// Backoff is a (blocking) function returning when to retry. If the context
// is cancelled it returns ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff that waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff whose N-th call waits for
// initialInterval * r^N, or for the context to be done.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}
