// Package client issues HTTP calls against the system under test and
// classifies their outcomes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Response captures a single completed call.
type Response struct {
	StatusCode int
	Body       []byte
	ElapsedMs  float64
}

// Client is the request collaborator the harness depends on.
type Client interface {
	Call(ctx context.Context, method, path string, body any, headers map[string]string) (*Response, error)
}

// TransportError wraps failures that never produced a status code:
// connection refused, DNS, timeouts. Timeout is distinguishable so
// scenarios can count it separately from other transport failures.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("client: request timed out: %v", e.Err)
	}
	return fmt.Sprintf("client: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}

// Outcome buckets a protocol-level result for pass/fail decisions.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeClientError Outcome = "client_error"
	OutcomeServerError Outcome = "server_error"
)

// Classify maps a status code to an outcome bucket.
func Classify(status int) Outcome {
	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}

// HTTPClient is the production Client backed by net/http.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTP creates a client for the given base URL. Timeout applies
// per call.
func NewHTTP(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Call issues one request. A JSON body is marshalled when non-nil.
// Protocol failures (any status code) are returned in the Response,
// not as an error; only transport failures produce an error.
func (c *HTTPClient) Call(ctx context.Context, method, path string, body any, headers map[string]string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		te := &TransportError{Err: err, Timeout: isTimeoutErr(err)}
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Bool("timeout", te.Timeout),
			zap.Error(err))
		return nil, te
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err, Timeout: isTimeoutErr(err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		ElapsedMs:  float64(elapsed) / float64(time.Millisecond),
	}, nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
