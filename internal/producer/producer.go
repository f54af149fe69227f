// Package producer emits synthetic events into a sink at a
// controlled, ramping rate.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/schedule"
	"github.com/nedlia/probekit/internal/sink"
)

// Config defines a production run. Immutable once the run starts.
type Config struct {
	EventsPerSecond int    `json:"events_per_second" yaml:"events_per_second"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
	RampUpSeconds   int    `json:"ramp_up_seconds" yaml:"ramp_up_seconds"`
	EventType       string `json:"event_type" yaml:"event_type"`
	SinkID          string `json:"sink_identifier" yaml:"sink_identifier"`
}

// DefaultConfig returns the baseline production run.
func DefaultConfig() Config {
	return Config{
		EventsPerSecond: 100,
		DurationSeconds: 300,
		RampUpSeconds:   60,
		EventType:       "placement.created",
		SinkID:          "nedlia-events",
	}
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.EventType == "" {
		c.EventType = "placement.created"
	}
}

// Validate fails fast on test-definition bugs, before any work
// begins.
func (c *Config) Validate() error {
	if c.EventsPerSecond <= 0 {
		return errors.New("producer: events per second must be positive")
	}
	if c.DurationSeconds <= 0 {
		return errors.New("producer: duration must be positive")
	}
	if c.RampUpSeconds < 0 {
		return errors.New("producer: ramp-up must be non-negative")
	}
	if c.RampUpSeconds > c.DurationSeconds {
		return fmt.Errorf("producer: ramp-up %ds exceeds duration %ds",
			c.RampUpSeconds, c.DurationSeconds)
	}
	return nil
}

// Report summarizes a completed run. Read-only once produced.
type Report struct {
	TestRunID       string  `json:"test_run_id"`
	TotalEvents     int     `json:"total_events"` // events actually published
	TargetRate      int     `json:"target_rate"`
	ActualRate      float64 `json:"actual_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
	Errors          int     `json:"errors"`
}

// payload is the opaque domain data carried by each event.
type payload struct {
	VideoID   string `json:"video_id"`
	ProductID string `json:"product_id"`
	TimeRange struct {
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
	} `json:"time_range"`
}

// Producer drives the scheduler to emit events into a sink. A single
// driver loop paces itself with scheduler delays; there is no
// fan-out.
type Producer struct {
	cfg       Config
	sink      sink.Sink
	logger    *zap.Logger
	testRunID string
}

// New creates a producer for one run.
func New(cfg Config, s sink.Sink, logger *zap.Logger) (*Producer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("producer: sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		cfg:       cfg,
		sink:      s,
		logger:    logger,
		testRunID: fmt.Sprintf("perf_%d", time.Now().Unix()),
	}, nil
}

// TestRunID returns the id grouping this run's events.
func (p *Producer) TestRunID() string { return p.testRunID }

// Run emits events until the target count is reached. Termination is
// count-based, not wall-clock-based: a slow sink stretches the actual
// duration, which shows up in the report's actual rate. Publish
// failures are counted and dropped, never retried here, and do not
// slow the pace. Returns the report and ctx.Err when cancelled early;
// a report is produced either way.
func (p *Producer) Run(ctx context.Context) (*Report, error) {
	total := p.cfg.EventsPerSecond * p.cfg.DurationSeconds
	pace := schedule.Config{
		EventsPerSecond: p.cfg.EventsPerSecond,
		RampUp:          time.Duration(p.cfg.RampUpSeconds) * time.Second,
	}

	p.logger.Info("starting production run",
		zap.String("test_run_id", p.testRunID),
		zap.Int("target_rate", p.cfg.EventsPerSecond),
		zap.Int("duration_seconds", p.cfg.DurationSeconds),
		zap.Int("total_events", total))

	start := time.Now()
	var sent, published, failures int
	var runErr error

	progressEvery := p.cfg.EventsPerSecond * 10

loop:
	for sent < total {
		event := p.newEvent()
		if err := p.sink.Publish(ctx, event); err != nil {
			failures++
			p.logger.Debug("publish failed",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else {
			published++
		}
		sent++

		if progressEvery > 0 && sent%progressEvery == 0 {
			p.logger.Info("production progress",
				zap.Int("sent", sent),
				zap.Int("total", total),
				zap.Int("errors", failures))
		}
		if sent == total {
			break
		}

		delay := schedule.NextDelay(time.Since(start), pace)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		}
	}

	elapsed := time.Since(start).Seconds()
	report := &Report{
		TestRunID:       p.testRunID,
		TotalEvents:     published,
		TargetRate:      p.cfg.EventsPerSecond,
		DurationSeconds: elapsed,
		Errors:          failures,
	}
	if elapsed > 0 {
		report.ActualRate = float64(published) / elapsed
	}

	p.logger.Info("production run complete",
		zap.String("test_run_id", p.testRunID),
		zap.Int("published", published),
		zap.Int("errors", failures),
		zap.Float64("actual_rate", report.ActualRate))

	return report, runErr
}

// newEvent builds one synthetic event with fresh ids. Ownership
// transfers to the sink on successful publish.
func (p *Producer) newEvent() *sink.Event {
	var body payload
	body.VideoID = uuid.NewString()
	body.ProductID = uuid.NewString()
	body.TimeRange.EndTime = 30

	data, _ := json.Marshal(body)

	event := &sink.Event{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		TestRunID:     p.testRunID,
		Type:          p.cfg.EventType,
		Payload:       data,
	}
	event.Stamp(time.Now())
	return event
}
