package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/probekit.yaml")
	assert.Error(t, err)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  base_url: https://api.nedlia.dev
producer:
  events_per_second: 250
  duration_seconds: 60
  ramp_up_seconds: 10
scenarios:
  consistency:
    num_events: 25
    threshold_percent: 99
sink:
  type: http
  http:
    endpoint: http://localhost:8080/ingest
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.nedlia.dev", cfg.Target.BaseURL)
	assert.Equal(t, 250, cfg.Producer.EventsPerSecond)
	assert.Equal(t, 99.0, cfg.Scenarios.Consistency.ThresholdPercent)
	assert.Equal(t, "http", cfg.Sink.Type)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, cfg.Scenarios.Burst.Requests)
	assert.Equal(t, "reports", cfg.Report.Dir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
producer:
  events_per_second: -5
`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "events per second")
}

func TestValidateSinkRequirements(t *testing.T) {
	cfg := Default()
	cfg.Sink.Type = "eventbridge"
	assert.ErrorContains(t, cfg.Validate(), "bus name")

	cfg = Default()
	cfg.Sink.Type = "redis"
	assert.ErrorContains(t, cfg.Validate(), "redis address")

	cfg = Default()
	cfg.Sink.Type = "carrier-pigeon"
	assert.ErrorContains(t, cfg.Validate(), "unknown sink type")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BASE_URL", "https://staging.nedlia.dev")
	t.Setenv("EVENTS_PER_SECOND", "42")
	t.Setenv("CONSISTENCY_SLO_SECONDS", "2.5")
	t.Setenv("EVENT_BUS_NAME", "nedlia-events-staging")
	t.Setenv("DURATION_SECONDS", "not-a-number")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "https://staging.nedlia.dev", cfg.Target.BaseURL)
	assert.Equal(t, 42, cfg.Producer.EventsPerSecond)
	assert.Equal(t, 2.5, cfg.Scenarios.Consistency.SLOSeconds)
	assert.Equal(t, "eventbridge", cfg.Sink.Type)
	assert.Equal(t, "nedlia-events-staging", cfg.Sink.EventBridge.BusName)
	assert.Equal(t, 300, cfg.Producer.DurationSeconds, "unparseable values are ignored")
}
