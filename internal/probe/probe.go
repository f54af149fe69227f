// Package probe measures write-to-read eventual-consistency latency
// against a running system.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
)

// State is the terminal (or in-flight) phase of one probe.
type State string

const (
	StateWriting     State = "writing"
	StatePolling     State = "polling"
	StateConsistent  State = "consistent"
	StateTimedOut    State = "timed_out"
	StateWriteFailed State = "write_failed"
	StateAbandoned   State = "abandoned" // batch deadline hit mid-probe
)

// Predicate decides whether a read response shows the write has been
// fully processed. The default checks that data.file_url is
// populated, the field set by the async worker.
type Predicate func(body []byte) bool

// Config defines one probe invocation.
type Config struct {
	WritePath    string
	ReadPath     func(id string) string
	SLO          time.Duration
	PollInterval time.Duration
	Predicate    Predicate
	Payload      func(correlationID string) any
	ExtractID    func(body []byte) (string, error)
}

// ApplyDefaults fills in the placement-service defaults.
func (c *Config) ApplyDefaults() {
	if c.WritePath == "" {
		c.WritePath = "/v1/placements"
	}
	if c.ReadPath == nil {
		c.ReadPath = func(id string) string { return "/v1/placements/" + id }
	}
	if c.SLO == 0 {
		c.SLO = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Predicate == nil {
		c.Predicate = FileURLPopulated
	}
	if c.Payload == nil {
		c.Payload = defaultPayload
	}
	if c.ExtractID == nil {
		c.ExtractID = ExtractDataID
	}
}

// Validate checks configuration.
func (c *Config) Validate() error {
	if c.SLO < 0 {
		return errors.New("probe: slo must be non-negative")
	}
	if c.PollInterval < 0 {
		return errors.New("probe: poll interval must be non-negative")
	}
	return nil
}

// Result is the immutable record of one probe invocation.
type Result struct {
	CorrelationID        string  `json:"correlation_id"`
	PlacementID          string  `json:"placement_id,omitempty"`
	WriteLatencyMs       float64 `json:"write_latency_ms"`
	ConsistencyLatencyMs float64 `json:"consistency_latency_ms"`
	Consistent           bool    `json:"consistent"`
	WithinSLO            bool    `json:"within_slo"`
	PollCount            int     `json:"poll_count"`
	State                State   `json:"state"`
	Error                string  `json:"error,omitempty"`
}

// Probe issues one write and polls the read path until the
// consistency predicate holds or the deadline elapses.
type Probe struct {
	cfg    Config
	client client.Client
	logger *zap.Logger
}

// New creates a probe.
func New(cfg Config, c client.Client, logger *zap.Logger) (*Probe, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("probe: client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{cfg: cfg, client: c, logger: logger}, nil
}

// Run executes the probe state machine:
// WRITING -> POLLING -> {CONSISTENT, TIMED_OUT, WRITE_FAILED}.
// The write always precedes any poll. A transient error during
// polling is swallowed and counted as a non-consistent attempt.
// Always returns a result; a cancelled batch yields StateAbandoned,
// which aggregation excludes.
func (p *Probe) Run(ctx context.Context) *Result {
	correlationID := uuid.NewString()
	res := &Result{CorrelationID: correlationID, State: StateWriting}
	start := time.Now()

	body := p.cfg.Payload(correlationID)
	resp, err := p.client.Call(ctx, http.MethodPost, p.cfg.WritePath, body, nil)
	writeElapsed := time.Since(start)

	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.State = StateWriteFailed
		res.WriteLatencyMs = ms(writeElapsed)
		res.ConsistencyLatencyMs = res.WriteLatencyMs
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Error = fmt.Sprintf("create failed: %d", resp.StatusCode)
		}
		return res
	}

	id, err := p.cfg.ExtractID(resp.Body)
	if err != nil {
		res.State = StateWriteFailed
		res.WriteLatencyMs = ms(writeElapsed)
		res.ConsistencyLatencyMs = res.WriteLatencyMs
		res.Error = err.Error()
		return res
	}

	res.PlacementID = id
	res.WriteLatencyMs = ms(writeElapsed)
	res.State = StatePolling

	// Poll cap is defined against the 100ms convention: slo seconds
	// times ten polls per second, rounded up.
	maxPolls := int(math.Ceil(p.cfg.SLO.Seconds() * 10))
	readPath := p.cfg.ReadPath(id)

	for res.PollCount < maxPolls {
		select {
		case <-time.After(p.cfg.PollInterval):
		case <-ctx.Done():
			res.State = StateAbandoned
			res.ConsistencyLatencyMs = ms(time.Since(start))
			res.Error = ctx.Err().Error()
			return res
		}
		res.PollCount++

		read, err := p.client.Call(ctx, http.MethodGet, readPath, nil, nil)
		if err != nil {
			// Transient failure: counted as a non-consistent poll.
			continue
		}
		if read.StatusCode == http.StatusOK && p.cfg.Predicate(read.Body) {
			res.Consistent = true
			break
		}
	}

	res.ConsistencyLatencyMs = ms(time.Since(start))
	if res.Consistent {
		res.State = StateConsistent
	} else {
		res.State = StateTimedOut
	}
	res.WithinSLO = res.Consistent && res.ConsistencyLatencyMs <= ms(p.cfg.SLO)

	return res
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FileURLPopulated is the default predicate: the async worker has
// filled in data.file_url.
func FileURLPopulated(body []byte) bool {
	var doc struct {
		Data struct {
			FileURL string `json:"file_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return doc.Data.FileURL != ""
}

// ExtractDataID pulls data.id out of a write response.
func ExtractDataID(body []byte) (string, error) {
	var doc struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("probe: parse write response: %w", err)
	}
	if doc.Data.ID == "" {
		return "", errors.New("probe: write response missing data.id")
	}
	return doc.Data.ID, nil
}

func defaultPayload(correlationID string) any {
	return map[string]any{
		"video_id":   uuid.NewString(),
		"product_id": uuid.NewString(),
		"time_range": map[string]float64{
			"start_time": 0,
			"end_time":   10,
		},
		"_correlation_id": correlationID,
	}
}
