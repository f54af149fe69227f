// Package sink accepts synthetic events for asynchronous delivery.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a synthetic event owned by the sink once published.
// CorrelationID traces a write through to read-side consistency;
// TestRunID groups events from one producer run.
type Event struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	TestRunID     string          `json:"test_run_id"`
	Type          string          `json:"type"`
	ProducedAt    float64         `json:"produced_at"`
	ProducedAtISO string          `json:"produced_at_iso"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Stamp sets both timestamp representations from t.
func (e *Event) Stamp(t time.Time) {
	e.ProducedAt = float64(t.UnixNano()) / float64(time.Second)
	e.ProducedAtISO = t.UTC().Format(time.RFC3339Nano)
}

// Sink delivers events downstream. Publish must return an error on
// failure rather than panic; the producer counts the failure and
// moves on. Retry policy, if any, belongs to the sink.
type Sink interface {
	Publish(ctx context.Context, event *Event) error
}

// PublishError is the typed transport failure a sink returns.
type PublishError struct {
	Sink string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("sink %s: publish failed: %v", e.Sink, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
