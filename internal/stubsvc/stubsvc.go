// Package stubsvc is an in-process stand-in for the placement
// service, used by package tests and the CLI self-test mode. It
// mimics the behaviors the harness measures: asynchronous read-model
// population, idempotency keys, and token-bucket backpressure.
package stubsvc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config controls the stub's behavior.
type Config struct {
	ConsistencyDelay time.Duration // how long until file_url appears
	WriteDelay       time.Duration // artificial latency on writes
	RateLimit        rate.Limit    // writes per second, 0 disables limiting
	Burst            int           // token bucket depth
	Idempotent       bool          // honor the Idempotency-Key header
	IdempotencyKey   string        // header name, defaults to Idempotency-Key
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = "Idempotency-Key"
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
}

type placement struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"-"`
	Request   json.RawMessage `json:"-"`
}

// Server holds the stub's state behind a chi router.
type Server struct {
	cfg     Config
	limiter *rate.Limiter

	mu         sync.Mutex
	placements map[string]*placement
	order      []string
	byToken    map[string]string // idempotency token -> placement id
}

// New creates a stub server.
func New(cfg Config) *Server {
	cfg.ApplyDefaults()
	s := &Server{
		cfg:        cfg,
		placements: make(map[string]*placement),
		byToken:    make(map[string]string),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/placements", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{placementID}", s.handleGet)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Count returns how many placements exist.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placements)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "rate limit exceeded",
		})
		return
	}

	if s.cfg.WriteDelay > 0 {
		time.Sleep(s.cfg.WriteDelay)
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	token := r.Header.Get(s.cfg.IdempotencyKey)

	s.mu.Lock()
	if s.cfg.Idempotent && token != "" {
		if id, ok := s.byToken[token]; ok {
			p := s.placements[id]
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, s.render(p))
			return
		}
	}

	p := &placement{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Request:   body,
	}
	s.placements[p.ID] = p
	s.order = append(s.order, p.ID)
	if token != "" {
		s.byToken[token] = p.ID
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, s.render(p))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "placementID")

	s.mu.Lock()
	p, ok := s.placements[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.render(p))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	s.mu.Lock()
	ids := s.order
	if len(ids) > limit {
		ids = ids[:limit]
	}
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, s.renderLocked(s.placements[id]))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]any{"has_more": false},
	})
}

// render builds the response document. file_url flips from null to a
// value once the configured consistency delay has passed, standing in
// for the async worker that generates the placement file.
func (s *Server) render(p *placement) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{"data": s.renderLocked(p)}
}

func (s *Server) renderLocked(p *placement) map[string]any {
	var fileURL any
	if time.Since(p.CreatedAt) >= s.cfg.ConsistencyDelay {
		fileURL = "s3://nedlia-placements/" + p.ID + ".json"
	}
	return map[string]any{
		"id":         p.ID,
		"status":     statusFor(fileURL),
		"file_url":   fileURL,
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func statusFor(fileURL any) string {
	if fileURL == nil {
		return "processing"
	}
	return "ready"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
