package backoff

import (
	"context"
	"time"
)

// Backoff implements exponential backoff between retries of an operation,
// growing the delay by a fixed multiplier up to a cap.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
}

// New creates a Backoff starting at initialDelay and growing by multiplier
// after each wait, capped at maxDelay.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// Wait blocks for the current delay, then grows the delay for the next call.
// Returns ctx.Err() if the context is cancelled while waiting.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset restores the initial delay, typically after a successful attempt.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
}

// CurrentDelay returns the delay the next Wait call will use.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}
