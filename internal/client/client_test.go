package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/placements", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v-1", body["video_id"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"p-1"}}`))
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 5*time.Second, zap.NewNop())
	resp, err := c.Call(context.Background(), "POST", "/v1/placements",
		map[string]string{"video_id": "v-1"},
		map[string]string{"Idempotency-Key": "abc"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "p-1")
	assert.Greater(t, resp.ElapsedMs, 0.0)
}

func TestHTTPClient_ProtocolFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, time.Second, nil)
	resp, err := c.Call(context.Background(), "GET", "/v1/placements", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHTTPClient_TimeoutIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL, 10*time.Millisecond, zap.NewNop())
	resp, err := c.Call(context.Background(), "GET", "/v1/placements", nil, nil)

	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected a timeout-classified error, got %v", err)
}

func TestHTTPClient_ConnectionRefusedIsNotTimeout(t *testing.T) {
	// Port from a closed test server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTP(url, time.Second, nil)
	_, err := c.Call(context.Background(), "GET", "/", nil, nil)

	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout)
	assert.False(t, IsTimeout(err))
}

func TestClassify(t *testing.T) {
	cases := map[int]Outcome{
		200: OutcomeSuccess,
		201: OutcomeSuccess,
		204: OutcomeSuccess,
		400: OutcomeClientError,
		404: OutcomeClientError,
		429: OutcomeRateLimited,
		500: OutcomeServerError,
		503: OutcomeServerError,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), "status=%d", status)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2.0}

	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 200*time.Millisecond, b.Next(1))
	assert.Equal(t, 400*time.Millisecond, b.Next(2))
	assert.Equal(t, 800*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Second, b.Next(4))
	assert.Equal(t, time.Second, b.Next(10))
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := DefaultBackoff()

	for i := 0; i < 100; i++ {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
