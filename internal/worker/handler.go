package worker

import (
	"context"

	"github.com/aceteam-ai/jobloop/internal/job"
)

// JobHandler processes jobs of a specific type.
// Handlers are registered with the Dispatcher and selected by CanHandle().
type JobHandler interface {
	// CanHandle returns true if this handler can process the given job type.
	CanHandle(jobType string) bool

	// Execute processes the job.
	// Returns a JobResult with status and output.
	Execute(ctx context.Context, j *job.Job) (*JobResult, error)
}
