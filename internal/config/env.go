package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overrides configuration from environment variables.
// The names match the knobs the deployment pipelines already export.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Target.BaseURL = v
	}
	if v, ok := envInt("EVENTS_PER_SECOND"); ok {
		cfg.Producer.EventsPerSecond = v
	}
	if v, ok := envInt("DURATION_SECONDS"); ok {
		cfg.Producer.DurationSeconds = v
	}
	if v, ok := envInt("RAMP_UP_SECONDS"); ok {
		cfg.Producer.RampUpSeconds = v
	}
	if v, ok := envFloat("CONSISTENCY_SLO_SECONDS"); ok {
		cfg.Scenarios.Consistency.SLOSeconds = v
	}
	if v := os.Getenv("EVENT_BUS_NAME"); v != "" {
		cfg.Sink.Type = "eventbridge"
		cfg.Sink.EventBridge.BusName = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Sink.EventBridge.Region = v
		if cfg.Report.S3Region == "" {
			cfg.Report.S3Region = v
		}
	}
	if v := os.Getenv("REPORT_BUCKET"); v != "" {
		cfg.Report.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
