// Package config loads the harness configuration from YAML and the
// environment. Durations are expressed in seconds or milliseconds to
// match the knobs operators already tune.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full harness configuration.
type Config struct {
	Target    TargetConfig   `yaml:"target"`
	Producer  ProducerConfig `yaml:"producer"`
	Runner    RunnerConfig   `yaml:"runner"`
	Scenarios ScenarioConfig `yaml:"scenarios"`
	Sink      SinkConfig     `yaml:"sink"`
	Report    ReportConfig   `yaml:"report"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	LogLevel  string         `yaml:"log_level"`
}

// TargetConfig locates the system under test.
type TargetConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// ProducerConfig shapes the event production run.
type ProducerConfig struct {
	EventsPerSecond int    `yaml:"events_per_second"`
	DurationSeconds int    `yaml:"duration_seconds"`
	RampUpSeconds   int    `yaml:"ramp_up_seconds"`
	EventType       string `yaml:"event_type"`
	SinkID          string `yaml:"sink_identifier"`
}

// RunnerConfig shapes scenario execution.
type RunnerConfig struct {
	Concurrency         int `yaml:"concurrency"`
	BatchTimeoutSeconds int `yaml:"batch_timeout_seconds"`
}

// ScenarioConfig enables and tunes individual scenarios.
type ScenarioConfig struct {
	Consistency ConsistencyConfig `yaml:"consistency"`
	Burst       BurstConfig       `yaml:"burst"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	ColdStart   ColdStartConfig   `yaml:"cold_start"`
	Warm        WarmConfig        `yaml:"warm"`
	Timeout     TimeoutConfig     `yaml:"timeout"`
	Retry       RetryConfig       `yaml:"retry"`
}

// ConsistencyConfig tunes the consistency SLO sweep.
type ConsistencyConfig struct {
	Enabled          bool    `yaml:"enabled"`
	NumEvents        int     `yaml:"num_events"`
	SLOSeconds       float64 `yaml:"slo_seconds"`
	PollIntervalMs   int     `yaml:"poll_interval_ms"`
	ThresholdPercent float64 `yaml:"threshold_percent"`
}

// BurstConfig tunes the backpressure burst.
type BurstConfig struct {
	Enabled         bool `yaml:"enabled"`
	Requests        int  `yaml:"requests"`
	MaxServerErrors int  `yaml:"max_server_errors"`
}

// IdempotencyConfig tunes the duplicate-write checks.
type IdempotencyConfig struct {
	Enabled    bool `yaml:"enabled"`
	Attempts   int  `yaml:"attempts"`
	Concurrent bool `yaml:"concurrent"`
	SpacingMs  int  `yaml:"spacing_ms"`
}

// ColdStartConfig tunes the cold-start latency burst.
type ColdStartConfig struct {
	Enabled         bool `yaml:"enabled"`
	IdleWaitSeconds int  `yaml:"idle_wait_seconds"`
	Burst           int  `yaml:"burst"`
	MaxP99Seconds   int  `yaml:"max_p99_seconds"`
}

// WarmConfig tunes the steady-state latency check.
type WarmConfig struct {
	Enabled      bool `yaml:"enabled"`
	Warmup       int  `yaml:"warmup"`
	Samples      int  `yaml:"samples"`
	MaxLatencyMs int  `yaml:"max_latency_ms"`
}

// TimeoutConfig tunes the client-timeout check.
type TimeoutConfig struct {
	Enabled   bool `yaml:"enabled"`
	Requests  int  `yaml:"requests"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

// RetryConfig tunes the retry success-rate check.
type RetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Requests       int     `yaml:"requests"`
	SpacingMs      int     `yaml:"spacing_ms"`
	MinSuccessRate float64 `yaml:"min_success_rate"`
}

// SinkConfig selects and configures the event sink.
type SinkConfig struct {
	Type        string            `yaml:"type"` // memory, http, eventbridge, redis
	HTTP        HTTPSinkConfig    `yaml:"http"`
	EventBridge EventBridgeConfig `yaml:"eventbridge"`
	Redis       RedisSinkConfig   `yaml:"redis"`
}

// HTTPSinkConfig configures the HTTP ingestion sink.
type HTTPSinkConfig struct {
	Endpoint    string `yaml:"endpoint"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// EventBridgeConfig configures the EventBridge sink.
type EventBridgeConfig struct {
	BusName  string `yaml:"bus_name"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// RedisSinkConfig configures the Redis stream sink.
type RedisSinkConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

// ReportConfig configures result persistence.
type ReportConfig struct {
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"` // empty disables upload
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the baseline configuration: a short consistency
// sweep and burst against a local target, reporting to ./reports.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			BaseURL:          "http://localhost:8000",
			RequestTimeoutMs: 10000,
		},
		Producer: ProducerConfig{
			EventsPerSecond: 100,
			DurationSeconds: 300,
			RampUpSeconds:   60,
			EventType:       "placement.created",
			SinkID:          "nedlia-events",
		},
		Runner: RunnerConfig{Concurrency: 100},
		Scenarios: ScenarioConfig{
			Consistency: ConsistencyConfig{
				Enabled:          true,
				NumEvents:        50,
				SLOSeconds:       5,
				PollIntervalMs:   100,
				ThresholdPercent: 95,
			},
			Burst:       BurstConfig{Enabled: true, Requests: 100, MaxServerErrors: 10},
			Idempotency: IdempotencyConfig{Enabled: true, Attempts: 5, SpacingMs: 100},
		},
		Sink:     SinkConfig{Type: "memory"},
		Report:   ReportConfig{Dir: "reports", S3Prefix: "perf-reports"},
		Metrics:  MetricsConfig{Addr: ":9090"},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that would start a broken run.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return errors.New("config: target base url is required")
	}
	if c.Target.RequestTimeoutMs <= 0 {
		return errors.New("config: request timeout must be positive")
	}
	if c.Producer.EventsPerSecond <= 0 {
		return errors.New("config: events per second must be positive")
	}
	if c.Producer.DurationSeconds <= 0 {
		return errors.New("config: duration must be positive")
	}
	if c.Producer.RampUpSeconds < 0 || c.Producer.RampUpSeconds > c.Producer.DurationSeconds {
		return errors.New("config: ramp-up must be between 0 and the duration")
	}
	if c.Scenarios.Consistency.ThresholdPercent < 0 || c.Scenarios.Consistency.ThresholdPercent > 100 {
		return errors.New("config: consistency threshold must be between 0 and 100")
	}
	switch c.Sink.Type {
	case "memory", "http", "eventbridge", "redis":
	default:
		return fmt.Errorf("config: unknown sink type %q", c.Sink.Type)
	}
	if c.Sink.Type == "http" && c.Sink.HTTP.Endpoint == "" {
		return errors.New("config: http sink endpoint is required")
	}
	if c.Sink.Type == "eventbridge" && c.Sink.EventBridge.BusName == "" {
		return errors.New("config: eventbridge bus name is required")
	}
	if c.Sink.Type == "redis" && c.Sink.Redis.Addr == "" {
		return errors.New("config: redis address is required")
	}
	if c.Report.Dir == "" {
		return errors.New("config: report directory is required")
	}
	return nil
}
