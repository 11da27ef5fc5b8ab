package control

import "github.com/aceteam-ai/jobloop/internal/status"

// Health states reported by /health.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`

	Host *status.HostMetrics `json:"host,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
