package scenario

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/probe"
	"github.com/nedlia/probekit/internal/stats"
)

// SweepConfig configures a consistency SLO sweep.
type SweepConfig struct {
	NumEvents        int           `yaml:"num_events"`
	SLO              time.Duration `yaml:"slo"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ThresholdPercent float64       `yaml:"threshold_percent"`
	Probe            probe.Config  `yaml:"-"` // write/read paths and predicate
}

// ApplyDefaults fills in default values.
func (c *SweepConfig) ApplyDefaults() {
	if c.NumEvents == 0 {
		c.NumEvents = 50
	}
	if c.SLO == 0 {
		c.SLO = 5 * time.Second
	}
	if c.ThresholdPercent == 0 {
		c.ThresholdPercent = 95
	}
}

// Validate checks configuration.
func (c *SweepConfig) Validate() error {
	if c.NumEvents < 0 {
		return errors.New("scenario: num events must be non-negative")
	}
	if c.ThresholdPercent < 0 || c.ThresholdPercent > 100 {
		return errors.New("scenario: threshold must be between 0 and 100")
	}
	return nil
}

// AggregateStats reduces a batch of probe results. Recomputed per
// run, never mutated in place.
type AggregateStats struct {
	Total           int     `json:"total"`
	ConsistentCount int     `json:"consistent_count"`
	WithinSLOCount  int     `json:"within_slo_count"`
	SLOPercentage   float64 `json:"slo_percentage"`
	NoData          bool    `json:"no_data,omitempty"`
	P50LatencyMs    float64 `json:"p50_latency_ms"`
	P90LatencyMs    float64 `json:"p90_latency_ms"`
	P99LatencyMs    float64 `json:"p99_latency_ms"`
	MinLatencyMs    float64 `json:"min_latency_ms"`
	MaxLatencyMs    float64 `json:"max_latency_ms"`
}

// SweepReport is the structured result of one sweep.
type SweepReport struct {
	Stats            AggregateStats  `json:"stats"`
	ThresholdPercent float64         `json:"threshold_percent"`
	Abandoned        int             `json:"abandoned,omitempty"`
	Pass             bool            `json:"pass"`
	Results          []*probe.Result `json:"results,omitempty"`
}

// RunConsistencySweep launches NumEvents probes concurrently,
// aggregates their latencies, and checks the within-SLO percentage
// against the threshold. Probes abandoned by the batch deadline are
// excluded from the aggregate.
func (r *Runner) RunConsistencySweep(ctx context.Context, cfg SweepConfig) (*SweepReport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	probeCfg := cfg.Probe
	probeCfg.SLO = cfg.SLO
	if cfg.PollInterval > 0 {
		probeCfg.PollInterval = cfg.PollInterval
	}

	p, err := probe.New(probeCfg, r.client, r.logger)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting consistency sweep",
		zap.Int("num_events", cfg.NumEvents),
		zap.Duration("slo", cfg.SLO),
		zap.Float64("threshold_percent", cfg.ThresholdPercent))

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	var mu sync.Mutex
	results := make([]*probe.Result, 0, cfg.NumEvents)

	r.forEach(runCtx, cfg.NumEvents, func(ctx context.Context, _ int) {
		res := p.Run(ctx)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	})

	report := evaluateSweep(results, cfg.ThresholdPercent)
	report.Results = results

	r.logger.Info("consistency sweep complete",
		zap.Int("total", report.Stats.Total),
		zap.Int("consistent", report.Stats.ConsistentCount),
		zap.Float64("slo_percentage", report.Stats.SLOPercentage),
		zap.Bool("pass", report.Pass))

	return report, nil
}

// evaluateSweep reduces probe results to a report. Percentiles are
// computed only over samples that reached consistency; a batch with
// zero consistent samples reports the explicit no-data state.
func evaluateSweep(results []*probe.Result, threshold float64) *SweepReport {
	report := &SweepReport{ThresholdPercent: threshold}
	agg := &report.Stats

	var latencies []float64
	for _, res := range results {
		if res.State == probe.StateAbandoned {
			report.Abandoned++
			continue
		}
		agg.Total++
		if res.Consistent {
			agg.ConsistentCount++
			latencies = append(latencies, res.ConsistencyLatencyMs)
		}
		if res.WithinSLO {
			agg.WithinSLOCount++
		}
	}

	if agg.Total > 0 {
		agg.SLOPercentage = float64(agg.WithinSLOCount) / float64(agg.Total) * 100
	}

	summary, err := stats.Summarize(latencies)
	if err != nil {
		agg.NoData = true
	} else {
		agg.P50LatencyMs = summary.P50
		agg.P90LatencyMs = summary.P90
		agg.P99LatencyMs = summary.P99
		agg.MinLatencyMs = summary.Min
		agg.MaxLatencyMs = summary.Max
	}

	report.Pass = agg.Total > 0 && agg.SLOPercentage >= threshold
	return report
}
