package stubsvc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func post(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	body := bytes.NewBufferString(`{"video_id":"v","product_id":"p","time_range":{"start_time":0,"end_time":10}}`)
	req, err := http.NewRequest(http.MethodPost, url+"/v1/placements", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeID(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var doc struct {
		Data struct {
			ID      string `json:"id"`
			FileURL any    `json:"file_url"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc.Data.ID
}

func TestCreateAndEventualConsistency(t *testing.T) {
	s := New(Config{ConsistencyDelay: 150 * time.Millisecond})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := post(t, srv.URL, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeID(t, resp)
	require.NotEmpty(t, id)

	// Immediately after the write the read model is not yet caught up.
	get, err := http.Get(srv.URL + "/v1/placements/" + id)
	require.NoError(t, err)
	var doc struct {
		Data struct {
			Status  string `json:"status"`
			FileURL any    `json:"file_url"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(get.Body).Decode(&doc))
	_ = get.Body.Close()
	assert.Nil(t, doc.Data.FileURL)
	assert.Equal(t, "processing", doc.Data.Status)

	time.Sleep(200 * time.Millisecond)

	get, err = http.Get(srv.URL + "/v1/placements/" + id)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(get.Body).Decode(&doc))
	_ = get.Body.Close()
	assert.NotNil(t, doc.Data.FileURL)
	assert.Equal(t, "ready", doc.Data.Status)
}

func TestGetUnknownIs404(t *testing.T) {
	srv := httptest.NewServer(New(Config{}).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/placements/nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIdempotencyKeyCollapsesDuplicates(t *testing.T) {
	s := New(Config{Idempotent: true})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	headers := map[string]string{"Idempotency-Key": "tok-1"}

	first := post(t, srv.URL, headers)
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	id1 := decodeID(t, first)

	second := post(t, srv.URL, headers)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	id2 := decodeID(t, second)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Count())
}

func TestWithoutIdempotencyEachWriteCreates(t *testing.T) {
	s := New(Config{Idempotent: false})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	headers := map[string]string{"Idempotency-Key": "tok-1"}
	id1 := decodeID(t, post(t, srv.URL, headers))
	id2 := decodeID(t, post(t, srv.URL, headers))

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, s.Count())
}

func TestRateLimitingShedsLoad(t *testing.T) {
	s := New(Config{RateLimit: rate.Limit(5), Burst: 5})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	var created, limited int
	for i := 0; i < 20; i++ {
		resp := post(t, srv.URL, nil)
		switch resp.StatusCode {
		case http.StatusCreated:
			created++
		case http.StatusTooManyRequests:
			limited++
		}
		_ = resp.Body.Close()
	}

	assert.Greater(t, created, 0)
	assert.Greater(t, limited, 0, "burst past the bucket must see 429s")
}

func TestList(t *testing.T) {
	s := New(Config{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		_ = decodeID(t, post(t, srv.URL, nil))
	}

	resp, err := http.Get(srv.URL + "/v1/placements?limit=2")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var doc struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Len(t, doc.Data, 2)
}
