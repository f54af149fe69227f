package scenario

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
)

// BurstConfig configures a backpressure burst.
type BurstConfig struct {
	Requests        int    `yaml:"requests"`
	MaxServerErrors int    `yaml:"max_server_errors"`
	Path            string `yaml:"path"`
	Body            any    `yaml:"-"`
}

// ApplyDefaults fills in default values.
func (c *BurstConfig) ApplyDefaults() {
	if c.Requests == 0 {
		c.Requests = 100
	}
	if c.MaxServerErrors == 0 {
		c.MaxServerErrors = 10
	}
	if c.Path == "" {
		c.Path = "/v1/placements"
	}
	if c.Body == nil {
		c.Body = defaultWriteBody()
	}
}

// Validate checks configuration.
func (c *BurstConfig) Validate() error {
	if c.Requests < 0 {
		return errors.New("scenario: requests must be non-negative")
	}
	return nil
}

// BurstReport classifies every response from a burst. A shed request
// (429) is correct backpressure behavior, never a failure; the burst
// fails only when the service buckles into 5xx.
type BurstReport struct {
	Requests          int         `json:"requests"`
	Success           int         `json:"success"`
	RateLimited       int         `json:"rate_limited"`
	ClientErrors      int         `json:"client_errors"`
	ServerErrors      int         `json:"server_errors"`
	TransportFailures int         `json:"transport_failures"`
	Timeouts          int         `json:"timeouts"`
	StatusCounts      map[int]int `json:"status_counts"`
	MaxServerErrors   int         `json:"max_server_errors"`
	Pass              bool        `json:"pass"`
}

// RunBurst fires the configured number of writes at once and buckets
// every outcome.
func (r *Runner) RunBurst(ctx context.Context, cfg BurstConfig) (*BurstReport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.logger.Info("starting backpressure burst",
		zap.Int("requests", cfg.Requests),
		zap.String("path", cfg.Path))

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	report := &BurstReport{
		Requests:        cfg.Requests,
		StatusCounts:    make(map[int]int),
		MaxServerErrors: cfg.MaxServerErrors,
	}
	var mu sync.Mutex

	r.forEach(runCtx, cfg.Requests, func(ctx context.Context, _ int) {
		resp, err := r.client.Call(ctx, http.MethodPost, cfg.Path, cfg.Body, nil)

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			report.TransportFailures++
			if client.IsTimeout(err) {
				report.Timeouts++
			}
			return
		}

		report.StatusCounts[resp.StatusCode]++
		switch client.Classify(resp.StatusCode) {
		case client.OutcomeSuccess:
			report.Success++
		case client.OutcomeRateLimited:
			report.RateLimited++
		case client.OutcomeClientError:
			report.ClientErrors++
		case client.OutcomeServerError:
			report.ServerErrors++
		}
	})

	report.Pass = report.ServerErrors < cfg.MaxServerErrors

	r.logger.Info("backpressure burst complete",
		zap.Int("success", report.Success),
		zap.Int("rate_limited", report.RateLimited),
		zap.Int("server_errors", report.ServerErrors),
		zap.Bool("pass", report.Pass))

	return report, nil
}
