// Package upload moves finalized chunks to a remote sink, tracking every
// chunk's status durably so interrupted uploads can be resumed.
package upload

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is the backoff strategy for a single chunk. Attempt k
// (0-indexed) that fails waits Delay(k) before attempt k+1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

func (p RetryPolicy) Delay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(k)))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
