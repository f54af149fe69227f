package scenario

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
	"github.com/nedlia/probekit/internal/stats"
)

// ColdStartConfig configures a cold-start latency burst: wait for the
// service to scale to zero, then hit it with concurrent reads and
// measure the resulting tail.
type ColdStartConfig struct {
	IdleWait time.Duration `yaml:"idle_wait"`
	Burst    int           `yaml:"burst"`
	Path     string        `yaml:"path"`
	MaxP99   time.Duration `yaml:"max_p99"`
}

// ApplyDefaults fills in default values.
func (c *ColdStartConfig) ApplyDefaults() {
	if c.Burst == 0 {
		c.Burst = 20
	}
	if c.Path == "" {
		c.Path = "/v1/placements?limit=1"
	}
	if c.MaxP99 == 0 {
		c.MaxP99 = 3 * time.Second
	}
}

// LatencyReport summarizes a latency-focused burst.
type LatencyReport struct {
	Requests int                   `json:"requests"`
	Failures int                   `json:"failures"`
	Summary  *stats.LatencySummary `json:"summary,omitempty"`
	LimitMs  float64               `json:"limit_ms"`
	Pass     bool                  `json:"pass"`
}

// RunColdStart sleeps through the idle window and then measures a
// concurrent read burst against the cold service.
func (r *Runner) RunColdStart(ctx context.Context, cfg ColdStartConfig) (*LatencyReport, error) {
	cfg.ApplyDefaults()
	if cfg.Burst < 1 {
		return nil, errors.New("scenario: burst must be positive")
	}

	if cfg.IdleWait > 0 {
		r.logger.Info("waiting for service to go cold",
			zap.Duration("idle_wait", cfg.IdleWait))
		select {
		case <-time.After(cfg.IdleWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	report := &LatencyReport{Requests: cfg.Burst, LimitMs: ms(cfg.MaxP99)}
	var mu sync.Mutex
	var samples []float64

	r.forEach(runCtx, cfg.Burst, func(ctx context.Context, _ int) {
		resp, err := r.client.Call(ctx, http.MethodGet, cfg.Path, nil, nil)

		mu.Lock()
		defer mu.Unlock()
		if err != nil || client.Classify(resp.StatusCode) != client.OutcomeSuccess {
			report.Failures++
			return
		}
		samples = append(samples, resp.ElapsedMs)
	})

	summary, err := stats.Summarize(samples)
	if err != nil {
		report.Pass = false
		r.logger.Warn("cold-start burst produced no successful samples")
		return report, nil
	}
	report.Summary = summary
	report.Pass = summary.P99 <= report.LimitMs

	r.logger.Info("cold-start burst complete",
		zap.Float64("p99_ms", summary.P99),
		zap.Float64("limit_ms", report.LimitMs),
		zap.Bool("pass", report.Pass))

	return report, nil
}

// WarmConfig configures a warm-latency check: prime the service with
// warmup reads, then sample steady-state latency.
type WarmConfig struct {
	Warmup     int           `yaml:"warmup"`
	Samples    int           `yaml:"samples"`
	Spacing    time.Duration `yaml:"spacing"`
	Path       string        `yaml:"path"`
	MaxLatency time.Duration `yaml:"max_latency"`
}

// ApplyDefaults fills in default values.
func (c *WarmConfig) ApplyDefaults() {
	if c.Warmup == 0 {
		c.Warmup = 10
	}
	if c.Samples == 0 {
		c.Samples = 50
	}
	if c.Path == "" {
		c.Path = "/v1/placements?limit=1"
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = 500 * time.Millisecond
	}
}

// RunWarmLatency measures sequential steady-state read latency after
// a warmup phase. Every sample must land under the limit.
func (r *Runner) RunWarmLatency(ctx context.Context, cfg WarmConfig) (*LatencyReport, error) {
	cfg.ApplyDefaults()
	if cfg.Samples < 1 {
		return nil, errors.New("scenario: samples must be positive")
	}

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	for i := 0; i < cfg.Warmup; i++ {
		if runCtx.Err() != nil {
			return nil, runCtx.Err()
		}
		_, _ = r.client.Call(runCtx, http.MethodGet, cfg.Path, nil, nil)
	}

	report := &LatencyReport{Requests: cfg.Samples, LimitMs: ms(cfg.MaxLatency)}
	var samples []float64

	for i := 0; i < cfg.Samples; i++ {
		if runCtx.Err() != nil {
			break
		}
		resp, err := r.client.Call(runCtx, http.MethodGet, cfg.Path, nil, nil)
		if err != nil || client.Classify(resp.StatusCode) != client.OutcomeSuccess {
			report.Failures++
		} else {
			samples = append(samples, resp.ElapsedMs)
		}
		if cfg.Spacing > 0 && i < cfg.Samples-1 {
			select {
			case <-time.After(cfg.Spacing):
			case <-runCtx.Done():
			}
		}
	}

	summary, err := stats.Summarize(samples)
	if err != nil {
		report.Pass = false
		return report, nil
	}
	report.Summary = summary
	report.Pass = report.Failures == 0 && summary.Max <= report.LimitMs

	r.logger.Info("warm-latency check complete",
		zap.Float64("max_ms", summary.Max),
		zap.Float64("limit_ms", report.LimitMs),
		zap.Bool("pass", report.Pass))

	return report, nil
}

// TimeoutConfig configures a client-timeout check: requests are sent
// with a deliberately unmeetable deadline and must surface as
// timeouts rather than hangs or misclassified errors.
type TimeoutConfig struct {
	Requests int           `yaml:"requests"`
	Timeout  time.Duration `yaml:"timeout"`
	Path     string        `yaml:"path"`
}

// ApplyDefaults fills in default values.
func (c *TimeoutConfig) ApplyDefaults() {
	if c.Requests == 0 {
		c.Requests = 10
	}
	if c.Timeout == 0 {
		c.Timeout = time.Millisecond
	}
	if c.Path == "" {
		c.Path = "/v1/placements?limit=1"
	}
}

// TimeoutReport records how unmeetable deadlines surfaced.
type TimeoutReport struct {
	Requests  int  `json:"requests"`
	Timeouts  int  `json:"timeouts"`
	Completed int  `json:"completed"`
	Pass      bool `json:"pass"`
}

// RunTimeouts verifies the client surfaces deadline misses as
// timeouts. It builds its own client from the factory because the
// deadline under test is a client property, not a request property.
func (r *Runner) RunTimeouts(ctx context.Context, cfg TimeoutConfig, newClient func(timeout time.Duration) client.Client) (*TimeoutReport, error) {
	cfg.ApplyDefaults()
	if newClient == nil {
		return nil, errors.New("scenario: client factory is required")
	}

	c := newClient(cfg.Timeout)
	report := &TimeoutReport{Requests: cfg.Requests}

	for i := 0; i < cfg.Requests; i++ {
		if ctx.Err() != nil {
			break
		}
		_, err := c.Call(ctx, http.MethodGet, cfg.Path, nil, nil)
		switch {
		case client.IsTimeout(err):
			report.Timeouts++
		case err == nil:
			report.Completed++
		}
	}

	report.Pass = report.Timeouts > 0

	r.logger.Info("timeout check complete",
		zap.Int("timeouts", report.Timeouts),
		zap.Int("completed", report.Completed),
		zap.Bool("pass", report.Pass))

	return report, nil
}

// RetryConfig configures a sustained success-rate check under
// retries: each request retries transient failures with backoff and
// the overall success rate must clear the floor.
type RetryConfig struct {
	Requests       int            `yaml:"requests"`
	Spacing        time.Duration  `yaml:"spacing"`
	Path           string         `yaml:"path"`
	MinSuccessRate float64        `yaml:"min_success_rate"`
	MaxAttempts    int            `yaml:"max_attempts"`
	Backoff        client.Backoff `yaml:"-"`
}

// ApplyDefaults fills in default values.
func (c *RetryConfig) ApplyDefaults() {
	if c.Requests == 0 {
		c.Requests = 20
	}
	if c.Spacing == 0 {
		c.Spacing = 100 * time.Millisecond
	}
	if c.Path == "" {
		c.Path = "/v1/placements?limit=1"
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = 0.9
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff == (client.Backoff{}) {
		c.Backoff = client.DefaultBackoff()
	}
}

// RetryReport records the success rate achieved with retries.
type RetryReport struct {
	Requests       int     `json:"requests"`
	Succeeded      int     `json:"succeeded"`
	Retried        int     `json:"retried"`
	SuccessRate    float64 `json:"success_rate"`
	MinSuccessRate float64 `json:"min_success_rate"`
	Pass           bool    `json:"pass"`
}

// RunRetries issues sequential reads, retrying 429/5xx and transport
// failures with backoff, and checks the resulting success rate.
func (r *Runner) RunRetries(ctx context.Context, cfg RetryConfig) (*RetryReport, error) {
	cfg.ApplyDefaults()
	if cfg.Requests < 1 {
		return nil, errors.New("scenario: requests must be positive")
	}

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	report := &RetryReport{Requests: cfg.Requests, MinSuccessRate: cfg.MinSuccessRate}

	for i := 0; i < cfg.Requests; i++ {
		if runCtx.Err() != nil {
			break
		}
		ok, retries := r.callWithRetry(runCtx, cfg)
		if ok {
			report.Succeeded++
		}
		report.Retried += retries
		if cfg.Spacing > 0 && i < cfg.Requests-1 {
			select {
			case <-time.After(cfg.Spacing):
			case <-runCtx.Done():
			}
		}
	}

	report.SuccessRate = float64(report.Succeeded) / float64(cfg.Requests)
	report.Pass = report.SuccessRate >= cfg.MinSuccessRate

	r.logger.Info("retry check complete",
		zap.Float64("success_rate", report.SuccessRate),
		zap.Int("retried", report.Retried),
		zap.Bool("pass", report.Pass))

	return report, nil
}

func (r *Runner) callWithRetry(ctx context.Context, cfg RetryConfig) (ok bool, retries int) {
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.Backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return false, retries
			}
			retries++
		}
		resp, err := r.client.Call(ctx, http.MethodGet, cfg.Path, nil, nil)
		if err != nil {
			continue
		}
		switch client.Classify(resp.StatusCode) {
		case client.OutcomeSuccess:
			return true, retries
		case client.OutcomeClientError:
			return false, retries // not retryable
		}
	}
	return false, retries
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
