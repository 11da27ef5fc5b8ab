package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/aceteam-ai/jobloop/internal/job"
)

var (
	// ErrNoHandler is returned for a job type with no registered handler.
	ErrNoHandler = errors.New("no handler for job type")

	// ErrJobFailed stands in when a handler reports failure without an error.
	ErrJobFailed = errors.New("job failed")
)

// Dispatcher executes claimed jobs through the registered handlers.
type Dispatcher struct {
	handlers []JobHandler
	clock    clockwork.Clock
	logFn    func(level, msg string)
}

// NewDispatcher creates a dispatcher over handlers. The first handler whose
// CanHandle accepts a job's type runs it.
func NewDispatcher(handlers []JobHandler, config RunnerConfig) *Dispatcher {
	config = config.withDefaults()
	return &Dispatcher{
		handlers: handlers,
		clock:    config.Clock,
		logFn:    config.ActivityFn,
	}
}

// Process runs j and reports whether it completed: success maps to true,
// retry to false, and failure or a missing handler to an error.
func (d *Dispatcher) Process(ctx context.Context, j *job.Job) (bool, error) {
	j.StartedAt = d.clock.Now()

	handler := d.find(j.Type)
	if handler == nil {
		err := fmt.Errorf("%w: %s", ErrNoHandler, j.Type)
		d.log("error", "Job %s: %v", j.ID, err)
		return false, err
	}

	d.log("info", "Job %s received (type: %s, retry: %d)", j.ID, j.Type, j.Retry)
	result, err := handler.Execute(ctx, j)
	duration := d.clock.Since(j.StartedAt)

	if err != nil || (result != nil && result.Status == JobStatusFailure) {
		if err == nil {
			err = result.Error
		}
		if err == nil {
			err = ErrJobFailed
		}
		d.log("error", "Job %s failed (%v): %v", j.ID, duration, err)
		return false, err
	}

	if result != nil && result.Status == JobStatusRetry {
		d.log("warning", "Job %s did not complete (%v): %v", j.ID, duration, result.Error)
		return false, nil
	}

	d.log("success", "Job %s completed (%v)", j.ID, duration)
	return true, nil
}

func (d *Dispatcher) find(jobType string) JobHandler {
	for _, h := range d.handlers {
		if h.CanHandle(jobType) {
			return h
		}
	}
	return nil
}

func (d *Dispatcher) log(level, format string, args ...any) {
	if d.logFn != nil {
		d.logFn(level, fmt.Sprintf(format, args...))
	}
}
