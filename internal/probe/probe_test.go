package probe

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nedlia/probekit/internal/client"
)

// scriptedClient returns canned responses: the first call is the
// write, subsequent calls are polls.
type scriptedClient struct {
	mu         sync.Mutex
	writeResp  *client.Response
	writeErr   error
	pollResps  []*client.Response
	pollErrs   []error
	pollCalls  int
	writeCalls int
}

func (s *scriptedClient) Call(_ context.Context, method, _ string, _ any, _ map[string]string) (*client.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method == http.MethodPost {
		s.writeCalls++
		return s.writeResp, s.writeErr
	}

	i := s.pollCalls
	s.pollCalls++
	if i < len(s.pollErrs) && s.pollErrs[i] != nil {
		return nil, s.pollErrs[i]
	}
	if i < len(s.pollResps) {
		return s.pollResps[i], nil
	}
	// Past the script: keep returning the last response.
	return s.pollResps[len(s.pollResps)-1], nil
}

func created() *client.Response {
	return &client.Response{StatusCode: 201, Body: []byte(`{"data":{"id":"p-1"}}`), ElapsedMs: 5}
}

func pending() *client.Response {
	return &client.Response{StatusCode: 200, Body: []byte(`{"data":{"id":"p-1","file_url":null}}`)}
}

func done() *client.Response {
	return &client.Response{StatusCode: 200, Body: []byte(`{"data":{"id":"p-1","file_url":"s3://bucket/p-1.json"}}`)}
}

func TestRun_WriteFailure(t *testing.T) {
	c := &scriptedClient{writeResp: &client.Response{StatusCode: 503, Body: []byte(`{}`)}}
	p, err := New(Config{SLO: time.Second, PollInterval: time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.Equal(t, StateWriteFailed, res.State)
	assert.False(t, res.Consistent)
	assert.False(t, res.WithinSLO)
	assert.Equal(t, 0, res.PollCount)
	assert.Empty(t, res.PlacementID)
	assert.Equal(t, 0, c.pollCalls, "no poll may happen after a failed write")
}

func TestRun_WriteTransportError(t *testing.T) {
	c := &scriptedClient{writeErr: &client.TransportError{Err: errors.New("refused")}}
	p, err := New(Config{SLO: time.Second, PollInterval: time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.Equal(t, StateWriteFailed, res.State)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 0, res.PollCount)
}

func TestRun_ConsistentOnThirdPoll(t *testing.T) {
	c := &scriptedClient{
		writeResp: created(),
		pollResps: []*client.Response{pending(), pending(), done()},
	}
	p, err := New(Config{SLO: 5 * time.Second, PollInterval: 100 * time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.Equal(t, StateConsistent, res.State)
	assert.True(t, res.Consistent)
	assert.True(t, res.WithinSLO)
	assert.Equal(t, 3, res.PollCount)
	assert.Equal(t, "p-1", res.PlacementID)
	assert.GreaterOrEqual(t, res.ConsistencyLatencyMs, 300.0)
	assert.GreaterOrEqual(t, res.ConsistencyLatencyMs, res.WriteLatencyMs)
}

func TestRun_TimesOutAtPollCap(t *testing.T) {
	c := &scriptedClient{
		writeResp: created(),
		pollResps: []*client.Response{pending()},
	}
	// SLO 0.5s -> ceil(0.5*10) = 5 polls.
	p, err := New(Config{SLO: 500 * time.Millisecond, PollInterval: time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.Equal(t, StateTimedOut, res.State)
	assert.False(t, res.Consistent)
	assert.False(t, res.WithinSLO)
	assert.Equal(t, 5, res.PollCount)
}

func TestRun_TransientPollErrorsAreSwallowed(t *testing.T) {
	c := &scriptedClient{
		writeResp: created(),
		pollErrs:  []error{&client.TransportError{Err: errors.New("reset")}, nil},
		pollResps: []*client.Response{nil, done()},
	}
	p, err := New(Config{SLO: time.Second, PollInterval: time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.Equal(t, StateConsistent, res.State)
	assert.Equal(t, 2, res.PollCount, "failed poll still counts as an attempt")
}

func TestRun_CancelledBatchYieldsAbandoned(t *testing.T) {
	c := &scriptedClient{
		writeResp: created(),
		pollResps: []*client.Response{pending()},
	}
	p, err := New(Config{SLO: time.Minute, PollInterval: 50 * time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	res := p.Run(ctx)

	assert.Equal(t, StateAbandoned, res.State)
	assert.False(t, res.Consistent)
	assert.NotEmpty(t, res.Error)
}

func TestRun_LatencyInvariant(t *testing.T) {
	c := &scriptedClient{
		writeResp: created(),
		pollResps: []*client.Response{done()},
	}
	p, err := New(Config{SLO: time.Second, PollInterval: 10 * time.Millisecond}, c, zap.NewNop())
	require.NoError(t, err)

	res := p.Run(context.Background())

	assert.GreaterOrEqual(t, res.WriteLatencyMs, 0.0)
	assert.GreaterOrEqual(t, res.ConsistencyLatencyMs, res.WriteLatencyMs)
}

func TestFileURLPopulated(t *testing.T) {
	assert.True(t, FileURLPopulated([]byte(`{"data":{"file_url":"s3://x"}}`)))
	assert.False(t, FileURLPopulated([]byte(`{"data":{"file_url":""}}`)))
	assert.False(t, FileURLPopulated([]byte(`{"data":{"file_url":null}}`)))
	assert.False(t, FileURLPopulated([]byte(`{"data":{}}`)))
	assert.False(t, FileURLPopulated([]byte(`not json`)))
}

func TestExtractDataID(t *testing.T) {
	id, err := ExtractDataID([]byte(`{"data":{"id":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = ExtractDataID([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = ExtractDataID([]byte(`nope`))
	assert.Error(t, err)
}
