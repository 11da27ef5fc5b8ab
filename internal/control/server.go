// Package control exposes a running job loop over HTTP: runner status and
// halt/resume, job submission and lookup, and a websocket stream of the
// runner's trace lines. Client is the matching Go client used by the CLI.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/runner"
	"github.com/aceteam-ai/jobloop/internal/status"
	"github.com/aceteam-ai/jobloop/internal/store"
)

// Runner is the part of the job runner the server drives.
type Runner interface {
	Submit(ctx context.Context, in job.Input, tx runner.Tx) (*job.Job, error)
	Halt()
	Resume() bool
	Snapshot() runner.Snapshot
}

// Jobs is the read side of the job store.
type Jobs interface {
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error)
	Ping(ctx context.Context) error
}

// HostProbe reports host vitals for /health.
type HostProbe interface {
	Collect(ctx context.Context) status.HostMetrics
}

// ServerConfig holds configuration for the control server.
type ServerConfig struct {
	Addr        string  // listen address (default: 127.0.0.1:7070)
	Version     string  // reported by /health
	SubmitRPS   float64 // per-IP POST /jobs rate (default: 10)
	SubmitBurst int     // per-IP POST /jobs burst (default: 20)

	// TrustProxyHeaders keys the rate limiter on X-Forwarded-For/X-Real-IP.
	// Enable only behind a reverse proxy that sets them.
	TrustProxyHeaders bool

	// Host adds host vitals to /health when set
	Host HostProbe

	// ActivityFn is called for log messages
	ActivityFn func(level, msg string)
}

// Server serves the control API.
type Server struct {
	config     ServerConfig
	runner     Runner
	jobs       Jobs
	hub        *Hub
	limiter    *RateLimiter
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// pingPeriod is how often idle /events connections are pinged.
const pingPeriod = 30 * time.Second

// NewServer creates a control server. hub may be nil when no event stream
// is wanted; /events then returns 404.
func NewServer(cfg ServerConfig, r Runner, jobs Jobs, hub *Hub) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7070"
	}
	if cfg.SubmitRPS <= 0 {
		cfg.SubmitRPS = 10
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 20
	}
	if cfg.ActivityFn == nil {
		cfg.ActivityFn = func(string, string) {}
	}
	return &Server{
		config:  cfg,
		runner:  r,
		jobs:    jobs,
		hub:     hub,
		limiter: NewRateLimiter(cfg.SubmitRPS, cfg.SubmitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/halt", s.handleHalt)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJob)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start begins listening for HTTP requests.
// This method blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	defer s.limiter.Stop()

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.config.ActivityFn("info", fmt.Sprintf("Control API listening on %s", s.config.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Close stops the rate limiter of a server that was never started.
func (s *Server) Close() {
	s.limiter.Stop()
}

// handleHealth reports liveness and store reachability.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: HealthStatusOK, Version: s.config.Version, Store: HealthStatusOK}
	code := http.StatusOK
	if err := s.jobs.Ping(r.Context()); err != nil {
		resp.Status = HealthStatusDegraded
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.config.Host != nil {
		host := s.config.Host.Collect(r.Context())
		resp.Host = &host
	}
	writeJSON(w, code, resp)
}

// handleStatus returns the runner snapshot.
// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

// POST /halt
func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.runner.Halt()
	s.config.ActivityFn("info", "Runner halted via control API")
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

// POST /resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.runner.Resume()
	s.config.ActivityFn("info", "Runner resumed via control API")
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

// handleJobs lists jobs or submits one.
// GET /jobs?status=&limit=
// POST /jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.submitJob(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var f job.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = job.Status(v)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad limit %q", v))
			return
		}
		f.Limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// maxSubmitBody caps POST /jobs bodies.
const maxSubmitBody = 1 << 20

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(getClientIP(r, s.config.TrustProxyHeaders)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var in job.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode job: %v", err))
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := s.runner.Submit(r.Context(), in, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, j)
	case errors.Is(err, job.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, runner.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.config.ActivityFn("error", fmt.Sprintf("Submit failed: %v", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleJob returns one job.
// GET /jobs/{id}
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	j, err := s.jobs.GetJob(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, j)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleEvents streams trace lines as JSON text messages.
// GET /events (websocket)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	recent, events, cancel := s.hub.Subscribe()
	defer cancel()

	// The read loop only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev Event) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}
	for _, ev := range recent {
		if err := send(ev); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// getClientIP extracts the client IP. Proxy headers are honoured only when
// trustProxy is set; otherwise any client could pick its own limiter key.
func getClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
