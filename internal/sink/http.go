package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
)

// HTTPConfig configures an HTTP sink.
type HTTPConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ApplyDefaults fills in default values.
func (c *HTTPConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
}

// Validate checks configuration.
func (c *HTTPConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("sink: http endpoint is required")
	}
	return nil
}

// HTTP posts events as JSON to an ingestion endpoint. Failed posts
// are retried with exponential backoff up to MaxAttempts; the retry
// policy lives here, not in the producer.
type HTTP struct {
	cfg     HTTPConfig
	http    *http.Client
	backoff client.Backoff
	logger  *zap.Logger
}

// NewHTTP creates an HTTP sink.
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) (*HTTP, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		backoff: client.DefaultBackoff(),
		logger:  logger,
	}, nil
}

// Publish delivers one event, retrying transient failures.
func (h *HTTP) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return &PublishError{Sink: "http", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < h.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(h.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return &PublishError{Sink: "http", Err: ctx.Err()}
			}
		}

		lastErr = h.post(ctx, data)
		if lastErr == nil {
			return nil
		}
		h.logger.Debug("publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("event_id", event.ID),
			zap.Error(lastErr))
	}

	return &PublishError{Sink: "http", Err: lastErr}
}

func (h *HTTP) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
