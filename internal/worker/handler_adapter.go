package worker

import (
	"context"
	"errors"
	"time"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/jobs"
)

// HandlerAdapter wraps a jobs.JobHandler to implement worker.JobHandler.
type HandlerAdapter struct {
	jobType string
	handler jobs.JobHandler
	logFn   func(level, msg string)
}

// NewHandlerAdapter creates an adapter for an executor.
func NewHandlerAdapter(jobType string, handler jobs.JobHandler) *HandlerAdapter {
	return &HandlerAdapter{
		jobType: jobType,
		handler: handler,
	}
}

// SetLogFn sets the logging callback passed to the executor.
func (a *HandlerAdapter) SetLogFn(logFn func(level, msg string)) {
	a.logFn = logFn
}

// CanHandle returns true if this adapter handles the given job type.
func (a *HandlerAdapter) CanHandle(jobType string) bool {
	return a.jobType == jobType
}

// Execute runs the executor. jobs.ErrIncomplete becomes JobStatusRetry
// with a nil error; any other error is a failure.
func (a *HandlerAdapter) Execute(ctx context.Context, j *job.Job) (*JobResult, error) {
	start := time.Now()

	jobCtx := jobs.JobContext{Ctx: ctx, LogFn: a.logFn}
	output, err := a.handler.Execute(jobCtx, j)

	duration := time.Since(start)

	if errors.Is(err, jobs.ErrIncomplete) {
		return &JobResult{
			Status:   JobStatusRetry,
			Error:    err,
			Duration: duration,
			Output: map[string]any{
				"output": string(output),
			},
		}, nil
	}
	if err != nil {
		return &JobResult{
			Status:   JobStatusFailure,
			Error:    err,
			Duration: duration,
			Output: map[string]any{
				"error":  err.Error(),
				"output": string(output),
			},
		}, err
	}

	return &JobResult{
		Status:   JobStatusSuccess,
		Duration: duration,
		Output: map[string]any{
			"output": string(output),
		},
	}, nil
}

// Ensure HandlerAdapter implements JobHandler
var _ JobHandler = (*HandlerAdapter)(nil)

// HandlersConfig selects and configures the built-in handlers.
type HandlersConfig struct {
	ShellEnabled    bool
	AllowedCommands []string
	ShellTimeout    time.Duration
}

// CreateHandlers builds the built-in handlers. echo is always registered;
// shell only when enabled. If logFn is provided, executor output is routed
// through it.
func CreateHandlers(cfg HandlersConfig, logFn func(level, msg string)) []JobHandler {
	handlers := []*HandlerAdapter{
		NewHandlerAdapter(job.TypeEcho, &jobs.EchoHandler{}),
	}
	if cfg.ShellEnabled {
		handlers = append(handlers, NewHandlerAdapter(job.TypeShell, &jobs.ShellCommandHandler{
			AllowedCommands: cfg.AllowedCommands,
			Timeout:         cfg.ShellTimeout,
		}))
	}

	result := make([]JobHandler, len(handlers))
	for i, h := range handlers {
		if logFn != nil {
			h.SetLogFn(logFn)
		}
		result[i] = h
	}
	return result
}
