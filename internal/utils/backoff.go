package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// LinearBackOff waits Step, 2*Step, 3*Step, ... between attempts.
// It implements backoff.BackOff and is not safe for concurrent use.
type LinearBackOff struct {
	Step    time.Duration
	attempt int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff returns a LinearBackOff starting at step.
func NewLinearBackOff(step time.Duration) *LinearBackOff {
	return &LinearBackOff{Step: step}
}

// NextBackOff returns the wait before the next attempt.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.Step
}

// Reset restarts the sequence.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// SleepContext waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
