package client

import (
	"math/rand"
	"time"
)

// Backoff computes retry wait times. Used by sinks that retry
// publishes; the producer itself never retries.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // fraction of the delay, 0 disables
}

// DefaultBackoff returns 100ms base, 5s cap, doubling, 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before retry number attempt (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= b.Factor
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * b.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
