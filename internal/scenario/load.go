package scenario

import (
	"context"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/producer"
	"github.com/nedlia/probekit/internal/sink"
)

// LoadReport wraps a production run's report with a pass decision.
type LoadReport struct {
	Producer *producer.Report `json:"producer"`
	Pass     bool             `json:"pass"`
}

// RunProducerLoad drives a full production run against the sink and
// passes only when every event published cleanly.
func (r *Runner) RunProducerLoad(ctx context.Context, cfg producer.Config, s sink.Sink) (*LoadReport, error) {
	p, err := producer.New(cfg, s, r.logger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := r.batchContext(ctx)
	defer cancel()

	rep, runErr := p.Run(runCtx)
	report := &LoadReport{
		Producer: rep,
		Pass:     runErr == nil && rep.Errors == 0,
	}

	r.logger.Info("load scenario complete",
		zap.Int("published", rep.TotalEvents),
		zap.Int("errors", rep.Errors),
		zap.Bool("pass", report.Pass))

	return report, nil
}
