package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/runner"
	"github.com/aceteam-ai/jobloop/internal/status"
	"github.com/aceteam-ai/jobloop/internal/store"
	"github.com/aceteam-ai/jobloop/internal/store/memory"
)

// MockRunner is a test implementation of Runner backed by a memory store.
type MockRunner struct {
	mu        sync.Mutex
	store     *memory.Store
	halted    bool
	submitErr error
	submitted int
}

func (m *MockRunner) Submit(ctx context.Context, in job.Input, tx runner.Tx) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted++
	return m.store.InsertJob(ctx, in, tx)
}

func (m *MockRunner) failSubmits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

func (m *MockRunner) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
}

func (m *MockRunner) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	return true
}

func (m *MockRunner) Snapshot() runner.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := runner.StateIdle
	if m.halted {
		state = runner.StateHalted
	}
	return runner.Snapshot{State: state, Halted: m.halted, Polls: uint64(m.submitted)}
}

// failingJobs wraps a store and fails Ping.
type failingJobs struct {
	*memory.Store
}

func (f failingJobs) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, cfg ServerConfig) (*httptest.Server, *MockRunner, *Hub) {
	t.Helper()
	st := memory.New(store.Options{})
	r := &MockRunner{store: st}
	hub := NewHub(10)
	cfg.Version = "v-test"

	srv := NewServer(cfg, r, st, hub)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, r, hub
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK || health.Status != HealthStatusOK || health.Version != "v-test" {
		t.Errorf("health = %d %+v", resp.StatusCode, health)
	}
}

// fakeProbe returns fixed host metrics.
type fakeProbe struct{}

func (fakeProbe) Collect(context.Context) status.HostMetrics {
	return status.HostMetrics{Hostname: "worker-1", MemoryPercent: 42}
}

func TestHealthIncludesHost(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{Host: fakeProbe{}})

	health, err := NewClient(ts.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Host == nil || health.Host.Hostname != "worker-1" || health.Host.MemoryPercent != 42 {
		t.Errorf("Host = %+v", health.Host)
	}
}

func TestHealthDegraded(t *testing.T) {
	st := memory.New(store.Options{})
	srv := NewServer(ServerConfig{}, &MockRunner{store: st}, failingJobs{st}, nil)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{})

	tests := []struct {
		method, path string
	}{
		{http.MethodPost, "/health"},
		{http.MethodPost, "/status"},
		{http.MethodGet, "/halt"},
		{http.MethodGet, "/resume"},
		{http.MethodDelete, "/jobs"},
		{http.MethodPost, "/jobs/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", resp.StatusCode)
			}
		})
	}
}

func TestHaltResumeStatus(t *testing.T) {
	ts, r, _ := newTestServer(t, ServerConfig{})
	client := NewClient(ts.URL)
	ctx := context.Background()

	snap, err := client.Halt(ctx)
	if err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if !snap.Halted || snap.State != runner.StateHalted {
		t.Errorf("after halt = %+v", snap)
	}

	snap, err = client.Status(ctx)
	if err != nil || !snap.Halted {
		t.Errorf("Status = %+v, %v", snap, err)
	}

	snap, err = client.Resume(ctx)
	if err != nil || snap.Halted {
		t.Errorf("Resume = %+v, %v", snap, err)
	}
	if r.Snapshot().Halted {
		t.Error("runner still halted")
	}
}

func TestSubmitAndGet(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{})
	client := NewClient(ts.URL)
	ctx := context.Background()

	j, err := client.Submit(ctx, job.Input{
		CompanyID: "acme",
		Type:      job.TypeEcho,
		Payload:   map[string]any{"message": "hi"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.ID == "" || j.Status != job.StatusPending {
		t.Fatalf("submitted job = %+v", j)
	}

	got, err := client.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Payload["message"] != "hi" {
		t.Errorf("GetJob = %+v", got)
	}

	if _, err := client.GetJob(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetJob(missing) = %v, want 404", err)
	}

	jobs, err := client.ListJobs(ctx, job.Filter{Status: job.StatusPending, Limit: 5})
	if err != nil || len(jobs) != 1 {
		t.Errorf("ListJobs = %d jobs, %v", len(jobs), err)
	}
}

func TestSubmitRejects(t *testing.T) {
	ts, r, _ := newTestServer(t, ServerConfig{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"type":`, http.StatusBadRequest},
		{"unknown field", `{"company_id":"acme","type":"echo","priority":1}`, http.StatusBadRequest},
		{"missing type", `{"company_id":"acme"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /jobs: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	r.failSubmits(runner.ErrStopped)
	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(`{"company_id":"acme","type":"echo"}`))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("stopped runner: status = %d, want 503", resp.StatusCode)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{SubmitRPS: 0.001, SubmitBurst: 2})

	body := []byte(`{"company_id":"acme","type":"echo"}`)
	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /jobs: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [201 201 429]", codes)
	}
}

func TestListJobsBadQuery(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{})

	for _, q := range []string{"?status=exploded", "?limit=-1", "?limit=many"} {
		resp, err := http.Get(ts.URL + "/jobs" + q)
		if err != nil {
			t.Fatalf("GET /jobs%s: %v", q, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /jobs%s = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestListJobsEmpty(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("GET /jobs: %v", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	json.NewDecoder(resp.Body).Decode(&raw)
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("empty listing = %s, want []", raw)
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	ts, _, hub := newTestServer(t, ServerConfig{})
	hub.Publish("getJob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Event, 10)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(ts.URL).Watch(ctx, func(ev Event) { got <- ev })
	}()

	// The replayed line proves the subscription is live.
	select {
	case ev := <-got:
		if ev.Line != "getJob" {
			t.Fatalf("first event = %q, want getJob", ev.Line)
		}
	case <-ctx.Done():
		t.Fatal("no replayed event")
	}

	hub.Publish("job-1: started")
	select {
	case ev := <-got:
		if ev.Line != "job-1: started" {
			t.Errorf("live event = %q", ev.Line)
		}
	case <-ctx.Done():
		t.Fatal("no live event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestEventsWithoutHub(t *testing.T) {
	st := memory.New(store.Options{})
	srv := NewServer(ServerConfig{}, &MockRunner{store: st}, st, nil)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remote     string
		trustProxy bool
		want       string
	}{
		{"remote addr", nil, "10.1.1.1:5555", false, "10.1.1.1"},
		{"forwarded ignored", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.1.1.1:5555", false, "10.1.1.1"},
		{"real ip ignored", map[string]string{"X-Real-IP": "9.9.9.9"}, "10.1.1.1:5555", false, "10.1.1.1"},
		{"forwarded list behind proxy", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "10.1.1.1:5555", true, "1.2.3.4"},
		{"real ip behind proxy", map[string]string{"X-Real-IP": "9.9.9.9"}, "10.1.1.1:5555", true, "9.9.9.9"},
		{"proxy without headers", nil, "10.1.1.1:5555", true, "10.1.1.1"},
		{"no port", nil, "10.1.1.1", false, "10.1.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubmitRateLimitIgnoresSpoofedHeaders(t *testing.T) {
	ts, _, _ := newTestServer(t, ServerConfig{SubmitRPS: 0.001, SubmitBurst: 1})

	body := `{"company_id":"acme","type":"echo"}`
	var codes []int
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /jobs: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [201 429 429]", codes)
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	st := memory.New(store.Options{})
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, &MockRunner{store: st}, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
