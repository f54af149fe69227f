package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvent() *Event {
	e := &Event{
		ID:            "ev-1",
		CorrelationID: "corr-1",
		TestRunID:     "perf_123",
		Type:          "placement.created",
	}
	e.Stamp(time.Now())
	return e
}

func TestEvent_Stamp(t *testing.T) {
	e := &Event{}
	ts := time.Date(2026, 8, 1, 12, 0, 0, 500_000_000, time.UTC)
	e.Stamp(ts)

	assert.InDelta(t, float64(ts.Unix())+0.5, e.ProducedAt, 0.001)
	assert.Equal(t, "2026-08-01T12:00:00.5Z", e.ProducedAtISO)
}

func TestMemory_PublishAndCap(t *testing.T) {
	m := NewMemory(3)

	for i := 0; i < 5; i++ {
		ev := testEvent()
		ev.ID = fmt.Sprintf("ev-%d", i)
		require.NoError(t, m.Publish(context.Background(), ev))
	}

	assert.Equal(t, 3, m.Count())
	events := m.Events()
	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "ev-4", events[2].ID)
}

func TestHTTP_PublishSuccess(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewHTTP(HTTPConfig{Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Publish(context.Background(), testEvent()))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, "corr-1", got.CorrelationID)
}

func TestHTTP_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTP(HTTPConfig{Endpoint: srv.URL, MaxAttempts: 3}, zap.NewNop())
	require.NoError(t, err)
	// Shrink backoff so the test stays fast.
	s.backoff.Base = time.Millisecond
	s.backoff.Jitter = 0

	require.NoError(t, s.Publish(context.Background(), testEvent()))
	assert.Equal(t, int64(3), calls.Load())
}

func TestHTTP_ExhaustedRetriesReturnTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTP(HTTPConfig{Endpoint: srv.URL, MaxAttempts: 2}, zap.NewNop())
	require.NoError(t, err)
	s.backoff.Base = time.Millisecond
	s.backoff.Jitter = 0

	err = s.Publish(context.Background(), testEvent())
	require.Error(t, err)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "http", pe.Sink)
}

func TestHTTP_ConfigValidation(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{}, nil)
	assert.Error(t, err)
}

type fakePutEvents struct {
	input  *eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
}

func (f *fakePutEvents) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventBridge_Publish(t *testing.T) {
	api := &fakePutEvents{}
	s := &EventBridge{
		cfg:    EventBridgeConfig{BusName: "nedlia-events"},
		api:    api,
		logger: zap.NewNop(),
	}

	ev := testEvent()
	require.NoError(t, s.Publish(context.Background(), ev))

	require.Len(t, api.input.Entries, 1)
	entry := api.input.Entries[0]
	assert.Equal(t, "nedlia.perf-test", *entry.Source)
	assert.Equal(t, "placement.created", *entry.DetailType)
	assert.Equal(t, "nedlia-events", *entry.EventBusName)
	assert.Contains(t, *entry.Detail, `"correlation_id":"corr-1"`)
}

func TestEventBridge_FailedEntriesAreErrors(t *testing.T) {
	api := &fakePutEvents{output: &eventbridge.PutEventsOutput{FailedEntryCount: 1}}
	s := &EventBridge{cfg: EventBridgeConfig{BusName: "b"}, api: api, logger: zap.NewNop()}

	err := s.Publish(context.Background(), testEvent())
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "eventbridge", pe.Sink)
}

func TestEventBridge_TransportErrorIsTyped(t *testing.T) {
	api := &fakePutEvents{err: errors.New("connection reset")}
	s := &EventBridge{cfg: EventBridgeConfig{BusName: "b"}, api: api, logger: zap.NewNop()}

	err := s.Publish(context.Background(), testEvent())
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
}

func TestRedis_StreamValues(t *testing.T) {
	values, err := streamValues(testEvent())
	require.NoError(t, err)

	assert.Equal(t, "ev-1", values["id"])
	assert.Equal(t, "corr-1", values["correlation_id"])
	assert.Equal(t, "placement.created", values["type"])
	assert.Contains(t, values["detail"], `"test_run_id":"perf_123"`)
}

func TestRedis_ConfigValidation(t *testing.T) {
	_, err := NewRedis(RedisConfig{}, nil)
	assert.Error(t, err)
	_, err = NewRedis(RedisConfig{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
}
