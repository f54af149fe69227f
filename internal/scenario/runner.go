// Package scenario orchestrates concurrent probes and request bursts
// against the system under test and evaluates the results against
// configured SLOs. A scenario never fails with an error because an
// SLO was missed; it returns a report with an explicit pass flag and
// leaves the decision to the caller.
package scenario

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
)

// RunnerConfig configures scenario execution.
type RunnerConfig struct {
	Concurrency       int           `yaml:"concurrency"`        // worker pool cap
	BatchTimeout      time.Duration `yaml:"batch_timeout"`      // whole-scenario deadline, 0 disables
	IdempotencyHeader string        `yaml:"idempotency_header"` // defaults to Idempotency-Key
}

// ApplyDefaults fills in default values.
func (c *RunnerConfig) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 100
	}
	if c.IdempotencyHeader == "" {
		c.IdempotencyHeader = "Idempotency-Key"
	}
}

// Validate checks configuration.
func (c *RunnerConfig) Validate() error {
	if c.Concurrency < 0 {
		return errors.New("scenario: concurrency must be non-negative")
	}
	if c.BatchTimeout < 0 {
		return errors.New("scenario: batch timeout must be non-negative")
	}
	return nil
}

// Runner executes scenarios through a bounded worker pool.
type Runner struct {
	cfg    RunnerConfig
	client client.Client
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig, c client.Client, logger *zap.Logger) (*Runner, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("scenario: client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, client: c, logger: logger}, nil
}

// batchContext applies the configured batch deadline.
func (r *Runner) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.BatchTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.BatchTimeout)
	}
	return context.WithCancel(ctx)
}

// forEach runs n units of work through the pool. Units interleave
// freely with no ordering guarantee. A panicking unit is logged and
// excluded rather than aborting the batch; a cancelled context stops
// unstarted units. forEach returns once every started unit finished.
func (r *Runner) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("scenario unit panicked",
						zap.Int("unit", i),
						zap.Any("panic", p))
				}
			}()
			fn(ctx, i)
		}(i)
	}

	wg.Wait()
}
