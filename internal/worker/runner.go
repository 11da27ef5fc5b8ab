package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/runner"
	"github.com/aceteam-ai/jobloop/internal/store"
	"github.com/aceteam-ai/jobloop/internal/usage"
)

// JobRunner is the runner specialised to persisted jobs.
type JobRunner = runner.Runner[*job.Job, job.Input]

// RunnerConfig holds configuration for the worker.
type RunnerConfig struct {
	// WorkerID identifies this worker instance in outcome records
	WorkerID string

	// TickRate is the runner's backoff delay (default: runner.DefaultTickRate)
	TickRate time.Duration

	// Clock drives the runner's alarm and job timing (default: real clock)
	Clock clockwork.Clock

	// ActivityFn is called for log messages
	ActivityFn func(level, msg string)

	// LogJob receives the runner's trace lines
	LogJob func(msg string)

	// JobRecordFn is called with every job outcome (for history)
	JobRecordFn func(record usage.Record)
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// NewRunner wires a runner to st: the store is the job source, handlers run
// the jobs, and outcomes flow back to the store through a Sink.
func NewRunner(st store.Store, handlers []JobHandler, config RunnerConfig) (*JobRunner, error) {
	config = config.withDefaults()
	dispatcher := NewDispatcher(handlers, config)
	sink := NewSink(st, config)

	return runner.New(runner.Config[*job.Job, job.Input]{
		QueryNextJob: func(ctx context.Context) (*job.Job, bool, error) {
			j, err := st.QueryNextJob(ctx)
			return j, j != nil, err
		},
		InsertJob: func(ctx context.Context, in job.Input, tx runner.Tx) (*job.Job, error) {
			return st.InsertJob(ctx, in, tx)
		},
		ProcessJob:     dispatcher.Process,
		OnJobCompleted: sink.OnCompleted,
		OnJobFailed:    sink.OnFailed,
		LogJob:         config.LogJob,
		TickRate:       config.TickRate,
		Alarm:          runner.NewClockAlarm(config.Clock),
	})
}
