package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{EventsPerSecond: 10}.Validate())
	assert.Error(t, Config{EventsPerSecond: 0}.Validate())
	assert.Error(t, Config{EventsPerSecond: -5}.Validate())
	assert.Error(t, Config{EventsPerSecond: 10, RampUp: -time.Second}.Validate())
}

func TestNextDelay_ConstantWithoutRamp(t *testing.T) {
	cfg := Config{EventsPerSecond: 50}

	want := time.Second / 50
	for _, elapsed := range []time.Duration{0, time.Millisecond, time.Second, time.Hour} {
		assert.Equal(t, want, NextDelay(elapsed, cfg), "elapsed=%v", elapsed)
	}
}

func TestEffectiveRate_RampIsMonotonic(t *testing.T) {
	cfg := Config{EventsPerSecond: 100, RampUp: 60 * time.Second}

	prev := 0.0
	for elapsed := time.Duration(0); elapsed <= cfg.RampUp; elapsed += time.Second {
		rate := EffectiveRate(elapsed, cfg)
		assert.GreaterOrEqual(t, rate, prev, "rate decreased at elapsed=%v", elapsed)
		assert.GreaterOrEqual(t, rate, 1.0, "rate below floor at elapsed=%v", elapsed)
		prev = rate
	}

	// Exactly the configured rate once ramp-up completes.
	assert.Equal(t, 100.0, EffectiveRate(cfg.RampUp, cfg))
	assert.Equal(t, 100.0, EffectiveRate(cfg.RampUp+time.Minute, cfg))
}

func TestEffectiveRate_FlooredAtOne(t *testing.T) {
	cfg := Config{EventsPerSecond: 100, RampUp: 60 * time.Second}

	// At elapsed=0 the linear formula yields 0; the floor kicks in.
	assert.Equal(t, 1.0, EffectiveRate(0, cfg))
	assert.Equal(t, time.Second, NextDelay(0, cfg))
}

func TestNextDelay_NeverNonPositive(t *testing.T) {
	for _, cfg := range []Config{
		{EventsPerSecond: 1},
		{EventsPerSecond: 10000},
		{EventsPerSecond: 7, RampUp: time.Second},
	} {
		for _, elapsed := range []time.Duration{0, time.Nanosecond, time.Second, time.Hour} {
			assert.Positive(t, NextDelay(elapsed, cfg))
		}
	}
}
