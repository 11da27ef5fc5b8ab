// Package store defines the job source contract consumed by the runner and
// the shared retry policy its backends apply.
//
// Backends live in subpackages: sqlite (sqlx + golang-migrate), redis
// (Redis Streams consumer group) and memory (tests and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aceteam-ai/jobloop/internal/job"
)

var (
	// ErrNotFound is returned when a job ID is unknown.
	ErrNotFound = errors.New("store: job not found")

	// ErrUnsupportedTx is returned by InsertJob when the transaction handle
	// is not one the backend can join.
	ErrUnsupportedTx = errors.New("store: unsupported transaction handle")

	// ErrNotCompleted is the failure cause recorded when a handler reports
	// that a job did not complete.
	ErrNotCompleted = errors.New("job not completed")
)

// Store is a persistent job source.
type Store interface {
	// QueryNextJob claims the oldest runnable pending job and marks it
	// running. It returns nil, nil when no job is ready.
	QueryNextJob(ctx context.Context) (*job.Job, error)

	// InsertJob persists a new pending job. tx is an optional transaction
	// handle of a backend-specific type; nil uses the store's own
	// connection.
	InsertJob(ctx context.Context, in job.Input, tx any) (*job.Job, error)

	// MarkCompleted records a successful run.
	MarkCompleted(ctx context.Context, j *job.Job) error

	// MarkFailed records a failed run and re-surfaces the job for another
	// attempt while the retry policy allows it.
	MarkFailed(ctx context.Context, j *job.Job, cause error) error

	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options configures the retry policy shared by all backends.
type Options struct {
	// MaxRetries is how many times a failed job is re-surfaced (default: 3).
	MaxRetries int

	// RetryDelay postpones a re-surfaced job (zero means the 30s default).
	RetryDelay time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Outcome is the persisted result of MarkFailed.
type Outcome struct {
	Status job.Status
	Retry  int
	RunAt  time.Time
	Error  string
}

// Dead reports whether the job has exhausted its retries.
func (o Outcome) Dead() bool { return o.Status == job.StatusFailed }

// NextAttempt applies the retry policy to a failed job.
func NextAttempt(j *job.Job, cause error, o Options, now time.Time) Outcome {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
	}
	if j.Retry >= o.MaxRetries {
		return Outcome{Status: job.StatusFailed, Retry: j.Retry, RunAt: j.RunAt, Error: msg}
	}
	return Outcome{
		Status: job.StatusPending,
		Retry:  j.Retry + 1,
		RunAt:  now.Add(o.RetryDelay),
		Error:  msg,
	}
}
