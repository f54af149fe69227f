// Package metrics exposes harness counters and latency histograms in
// Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
	"github.com/nedlia/probekit/internal/probe"
	"github.com/nedlia/probekit/internal/sink"
)

// Collector owns the harness metric families on a private registry.
type Collector struct {
	registry *prometheus.Registry

	eventsPublished prometheus.Counter
	eventsFailed    prometheus.Counter
	probeOutcomes   *prometheus.CounterVec
	requestOutcomes *prometheus.CounterVec
	writeLatency    prometheus.Histogram
	consistency     prometheus.Histogram
}

// NewCollector creates and registers the metric families.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "probekit_events_published_total",
			Help: "Events successfully handed to the sink.",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "probekit_events_failed_total",
			Help: "Events the sink rejected.",
		}),
		probeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probekit_probe_outcomes_total",
			Help: "Terminal probe states.",
		}, []string{"state"}),
		requestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probekit_request_outcomes_total",
			Help: "HTTP request outcome buckets.",
		}, []string{"outcome"}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "probekit_write_latency_seconds",
			Help:    "Write request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		consistency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "probekit_consistency_latency_seconds",
			Help:    "Write-to-read consistency latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		c.eventsPublished,
		c.eventsFailed,
		c.probeOutcomes,
		c.requestOutcomes,
		c.writeLatency,
		c.consistency,
	)
	return c
}

// Registry exposes the underlying registry for serving.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveProbe records one terminal probe result.
func (c *Collector) ObserveProbe(res *probe.Result) {
	c.probeOutcomes.WithLabelValues(string(res.State)).Inc()
	c.writeLatency.Observe(res.WriteLatencyMs / 1000)
	if res.Consistent {
		c.consistency.Observe(res.ConsistencyLatencyMs / 1000)
	}
}

// Handler returns the scrape endpoint mounted on a chi router.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Serve runs the scrape listener until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: c.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// InstrumentedSink counts publishes on the way to the wrapped sink.
type InstrumentedSink struct {
	next      sink.Sink
	collector *Collector
}

// WrapSink decorates a sink with publish counters.
func (c *Collector) WrapSink(next sink.Sink) *InstrumentedSink {
	return &InstrumentedSink{next: next, collector: c}
}

// Publish delegates and counts the outcome.
func (s *InstrumentedSink) Publish(ctx context.Context, event *sink.Event) error {
	err := s.next.Publish(ctx, event)
	if err != nil {
		s.collector.eventsFailed.Inc()
	} else {
		s.collector.eventsPublished.Inc()
	}
	return err
}

// InstrumentedClient buckets request outcomes on the way to the
// wrapped client.
type InstrumentedClient struct {
	next      client.Client
	collector *Collector
}

// WrapClient decorates a client with outcome counters.
func (c *Collector) WrapClient(next client.Client) *InstrumentedClient {
	return &InstrumentedClient{next: next, collector: c}
}

// Call delegates and counts the outcome. Transport failures are
// bucketed separately from protocol outcomes.
func (ic *InstrumentedClient) Call(ctx context.Context, method, path string, body any, headers map[string]string) (*client.Response, error) {
	resp, err := ic.next.Call(ctx, method, path, body, headers)
	switch {
	case client.IsTimeout(err):
		ic.collector.requestOutcomes.WithLabelValues("timeout").Inc()
	case err != nil:
		ic.collector.requestOutcomes.WithLabelValues("transport_error").Inc()
	default:
		ic.collector.requestOutcomes.WithLabelValues(string(client.Classify(resp.StatusCode))).Inc()
	}
	return resp, err
}
