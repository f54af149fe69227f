package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
	"github.com/nedlia/probekit/internal/config"
	"github.com/nedlia/probekit/internal/metrics"
	"github.com/nedlia/probekit/internal/producer"
	"github.com/nedlia/probekit/internal/report"
	"github.com/nedlia/probekit/internal/scenario"
	"github.com/nedlia/probekit/internal/sink"
	"github.com/nedlia/probekit/internal/stubsvc"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config, empty for defaults")
	selfTest := flag.Bool("self-test", false, "run against a built-in stub of the placement service")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *selfTest {
		addr, shutdown, err := startStub(logger)
		if err != nil {
			logger.Fatal("failed to start stub service", zap.Error(err))
		}
		defer shutdown()
		cfg.Target.BaseURL = "http://" + addr
		cfg.Sink.Type = "memory"
		logger.Info("self-test mode", zap.String("target", cfg.Target.BaseURL))
	}

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	eventSink, closeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build sink", zap.Error(err))
	}
	defer closeSink()

	timeout := time.Duration(cfg.Target.RequestTimeoutMs) * time.Millisecond
	httpClient := collector.WrapClient(client.NewHTTP(cfg.Target.BaseURL, timeout, logger))

	runner, err := scenario.NewRunner(scenario.RunnerConfig{
		Concurrency:  cfg.Runner.Concurrency,
		BatchTimeout: time.Duration(cfg.Runner.BatchTimeoutSeconds) * time.Second,
	}, httpClient, logger)
	if err != nil {
		logger.Fatal("failed to build runner", zap.Error(err))
	}

	writer, err := report.NewWriter(cfg.Report.Dir, logger)
	if err != nil {
		logger.Fatal("failed to build report writer", zap.Error(err))
	}

	var publisher *report.S3Publisher
	if cfg.Report.S3Bucket != "" {
		publisher, err = report.NewS3Publisher(ctx, report.S3Config{
			Bucket: cfg.Report.S3Bucket,
			Prefix: cfg.Report.S3Prefix,
			Region: cfg.Report.S3Region,
		}, logger)
		if err != nil {
			logger.Fatal("failed to build s3 publisher", zap.Error(err))
		}
	}

	allPass := runScenarios(ctx, cfg, runner, collector, eventSink, writer, publisher, logger)

	if ctx.Err() != nil {
		logger.Warn("run interrupted")
		os.Exit(130)
	}
	if !allPass {
		logger.Error("one or more scenarios failed")
		os.Exit(1)
	}
	logger.Info("all scenarios passed")
}

func runScenarios(
	ctx context.Context,
	cfg *config.Config,
	runner *scenario.Runner,
	collector *metrics.Collector,
	eventSink sink.Sink,
	writer *report.Writer,
	publisher *report.S3Publisher,
	logger *zap.Logger,
) bool {
	allPass := true

	persist := func(name string, pass bool, data any) {
		doc := report.NewDocument(name, pass, data)
		if _, err := writer.Write(doc); err != nil {
			logger.Error("failed to write report", zap.String("scenario", name), zap.Error(err))
		}
		if publisher != nil {
			if _, err := publisher.Publish(ctx, doc); err != nil {
				logger.Error("failed to upload report", zap.String("scenario", name), zap.Error(err))
			}
		}
		if !pass {
			allPass = false
		}
	}

	sc := cfg.Scenarios

	if cfg.Producer.DurationSeconds > 0 && eventSink != nil {
		rep, err := runner.RunProducerLoad(ctx, producer.Config{
			EventsPerSecond: cfg.Producer.EventsPerSecond,
			DurationSeconds: cfg.Producer.DurationSeconds,
			RampUpSeconds:   cfg.Producer.RampUpSeconds,
			EventType:       cfg.Producer.EventType,
			SinkID:          cfg.Producer.SinkID,
		}, collector.WrapSink(eventSink))
		if err != nil {
			logger.Error("load scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("producer_load", rep.Pass, rep)
		}
	}

	if sc.Consistency.Enabled && ctx.Err() == nil {
		rep, err := runner.RunConsistencySweep(ctx, scenario.SweepConfig{
			NumEvents:        sc.Consistency.NumEvents,
			SLO:              time.Duration(sc.Consistency.SLOSeconds * float64(time.Second)),
			PollInterval:     time.Duration(sc.Consistency.PollIntervalMs) * time.Millisecond,
			ThresholdPercent: sc.Consistency.ThresholdPercent,
		})
		if err != nil {
			logger.Error("consistency sweep failed to run", zap.Error(err))
			allPass = false
		} else {
			for _, res := range rep.Results {
				collector.ObserveProbe(res)
			}
			rep.Results = nil // keep the persisted document small
			persist("consistency_sweep", rep.Pass, rep)
		}
	}

	if sc.Burst.Enabled && ctx.Err() == nil {
		rep, err := runner.RunBurst(ctx, scenario.BurstConfig{
			Requests:        sc.Burst.Requests,
			MaxServerErrors: sc.Burst.MaxServerErrors,
		})
		if err != nil {
			logger.Error("burst scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("burst", rep.Pass, rep)
		}
	}

	if sc.Idempotency.Enabled && ctx.Err() == nil {
		rep, err := runner.RunDuplicates(ctx, scenario.DuplicateConfig{
			Attempts:   sc.Idempotency.Attempts,
			Concurrent: sc.Idempotency.Concurrent,
			Spacing:    time.Duration(sc.Idempotency.SpacingMs) * time.Millisecond,
		})
		if err != nil {
			logger.Error("idempotency scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("idempotency", rep.Pass, rep)
		}

		unique, err := runner.RunUniqueWrites(ctx, scenario.UniqueConfig{})
		if err != nil {
			logger.Error("unique-writes scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("unique_writes", unique.Pass, unique)
		}
	}

	if sc.ColdStart.Enabled && ctx.Err() == nil {
		rep, err := runner.RunColdStart(ctx, scenario.ColdStartConfig{
			IdleWait: time.Duration(sc.ColdStart.IdleWaitSeconds) * time.Second,
			Burst:    sc.ColdStart.Burst,
			MaxP99:   time.Duration(sc.ColdStart.MaxP99Seconds) * time.Second,
		})
		if err != nil {
			logger.Error("cold-start scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("cold_start", rep.Pass, rep)
		}
	}

	if sc.Warm.Enabled && ctx.Err() == nil {
		rep, err := runner.RunWarmLatency(ctx, scenario.WarmConfig{
			Warmup:     sc.Warm.Warmup,
			Samples:    sc.Warm.Samples,
			MaxLatency: time.Duration(sc.Warm.MaxLatencyMs) * time.Millisecond,
		})
		if err != nil {
			logger.Error("warm-latency scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("warm_latency", rep.Pass, rep)
		}
	}

	if sc.Timeout.Enabled && ctx.Err() == nil {
		rep, err := runner.RunTimeouts(ctx, scenario.TimeoutConfig{
			Requests: sc.Timeout.Requests,
			Timeout:  time.Duration(sc.Timeout.TimeoutMs) * time.Millisecond,
		}, func(timeout time.Duration) client.Client {
			return collector.WrapClient(client.NewHTTP(cfg.Target.BaseURL, timeout, logger))
		})
		if err != nil {
			logger.Error("timeout scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("timeout", rep.Pass, rep)
		}
	}

	if sc.Retry.Enabled && ctx.Err() == nil {
		rep, err := runner.RunRetries(ctx, scenario.RetryConfig{
			Requests:       sc.Retry.Requests,
			Spacing:        time.Duration(sc.Retry.SpacingMs) * time.Millisecond,
			MinSuccessRate: sc.Retry.MinSuccessRate,
		})
		if err != nil {
			logger.Error("retry scenario failed to run", zap.Error(err))
			allPass = false
		} else {
			persist("retry", rep.Pass, rep)
		}
	}

	return allPass
}

// buildSink wires the configured event sink. The returned close
// function is a no-op for sinks without connections.
func buildSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sink.Sink, func(), error) {
	noop := func() {}
	switch cfg.Sink.Type {
	case "memory":
		return sink.NewMemory(0), noop, nil
	case "http":
		s, err := sink.NewHTTP(sink.HTTPConfig{
			Endpoint:    cfg.Sink.HTTP.Endpoint,
			Timeout:     time.Duration(cfg.Sink.HTTP.TimeoutMs) * time.Millisecond,
			MaxAttempts: cfg.Sink.HTTP.MaxAttempts,
		}, logger)
		return s, noop, err
	case "eventbridge":
		s, err := sink.NewEventBridge(ctx, sink.EventBridgeConfig{
			BusName:  cfg.Sink.EventBridge.BusName,
			Region:   cfg.Sink.EventBridge.Region,
			Endpoint: cfg.Sink.EventBridge.Endpoint,
		}, logger)
		return s, noop, err
	case "redis":
		s, err := sink.NewRedis(sink.RedisConfig{
			Addr:   cfg.Sink.Redis.Addr,
			Stream: cfg.Sink.Redis.Stream,
			MaxLen: cfg.Sink.Redis.MaxLen,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

// startStub serves the built-in placement stub on a loopback port.
func startStub(logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}

	stub := stubsvc.New(stubsvc.Config{
		ConsistencyDelay: 500 * time.Millisecond,
		Idempotent:       true,
	})
	srv := &http.Server{Handler: stub.Router()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("stub service failed", zap.Error(err))
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), shutdown, nil
}

// newLogger builds a production zap logger at the configured level.
func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
