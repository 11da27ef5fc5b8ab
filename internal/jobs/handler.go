// Package jobs holds the built-in job executors.
//
// Executors return raw output and an error. The worker package adapts them
// to its JobHandler interface and maps ErrIncomplete to a retry outcome.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aceteam-ai/jobloop/internal/job"
)

// ErrIncomplete marks a run that did not finish but did not fail either,
// such as a command cut off by its timeout. The job is retried by its store.
var ErrIncomplete = errors.New("job did not complete")

// JobContext carries per-run resources into an executor.
type JobContext struct {
	// Ctx is cancelled when the runner stops.
	Ctx context.Context

	// LogFn is an optional callback for logging (if nil, output is dropped)
	LogFn func(level, msg string)
}

// Context returns Ctx, or context.Background when unset.
func (c *JobContext) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Log formats and forwards a message to LogFn.
func (c *JobContext) Log(level, format string, args ...any) {
	if c.LogFn == nil {
		return
	}
	c.LogFn(level, fmt.Sprintf(format, args...))
}

// JobHandler is the interface that all job executors must implement.
type JobHandler interface {
	Execute(ctx JobContext, j *job.Job) (output []byte, err error)
}
