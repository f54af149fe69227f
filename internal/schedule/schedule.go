// Package schedule computes inter-event pacing for a target throughput
// with a linear ramp-up. Pure functions, no hidden state.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Config defines the pacing target.
type Config struct {
	EventsPerSecond int           // steady-state rate after ramp-up
	RampUp          time.Duration // linear ramp window, zero disables
}

// Validate checks the pacing target.
func (c Config) Validate() error {
	if c.EventsPerSecond <= 0 {
		return errors.New("schedule: events per second must be positive")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("schedule: ramp-up must be non-negative, got %v", c.RampUp)
	}
	return nil
}

// EffectiveRate returns the target rate at the given elapsed offset.
// During ramp-up the rate grows linearly from the 1/s floor to the
// configured rate, reaching it exactly when elapsed == RampUp. The
// floor guards against a zero delay and runaway emission loops.
func EffectiveRate(elapsed time.Duration, cfg Config) float64 {
	rate := float64(cfg.EventsPerSecond)
	if cfg.RampUp > 0 && elapsed < cfg.RampUp {
		rate = float64(cfg.EventsPerSecond) * (elapsed.Seconds() / cfg.RampUp.Seconds())
	}
	if rate < 1 {
		rate = 1
	}
	return rate
}

// NextDelay returns how long the producer should suspend before the
// next emission. Never zero or negative.
func NextDelay(elapsed time.Duration, cfg Config) time.Duration {
	return time.Duration(float64(time.Second) / EffectiveRate(elapsed, cfg))
}
