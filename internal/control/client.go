package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/runner"
)

// APIError is a non-2xx reply from the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the control API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running control server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr, which may be host:port or a full
// http(s) URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Health calls GET /health. A degraded server returns its body and an
// *APIError.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return &resp, err
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (runner.Snapshot, error) {
	var snap runner.Snapshot
	err := c.do(ctx, http.MethodGet, "/status", nil, &snap)
	return snap, err
}

// Halt calls POST /halt.
func (c *Client) Halt(ctx context.Context) (runner.Snapshot, error) {
	var snap runner.Snapshot
	err := c.do(ctx, http.MethodPost, "/halt", nil, &snap)
	return snap, err
}

// Resume calls POST /resume.
func (c *Client) Resume(ctx context.Context) (runner.Snapshot, error) {
	var snap runner.Snapshot
	err := c.do(ctx, http.MethodPost, "/resume", nil, &snap)
	return snap, err
}

// Submit calls POST /jobs.
func (c *Client) Submit(ctx context.Context, in job.Input) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/jobs", in, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs calls GET /jobs.
func (c *Client) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []*job.Job
	err := c.do(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// GetJob calls GET /jobs/{id}.
func (c *Client) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Watch streams /events into fn until ctx is done or the connection drops.
// It returns nil when ctx ends the stream.
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket upgrade failed"}
		}
		return fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
		}
		// /health carries a useful body even when degraded.
		if out != nil {
			json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
