package worker

import (
	"context"
	"time"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/store"
	"github.com/aceteam-ai/jobloop/internal/usage"
)

// writeTimeout bounds a store write made after the runner's context is
// cancelled, so the outcome of the last in-flight job still lands.
const writeTimeout = 10 * time.Second

// Sink writes job outcomes back to the store and records them.
type Sink struct {
	store  store.Store
	config RunnerConfig
}

// NewSink creates a sink over st.
func NewSink(st store.Store, config RunnerConfig) *Sink {
	return &Sink{store: st, config: config.withDefaults()}
}

// OnCompleted marks a completed job done. A job that ran but did not
// complete goes through the store's retry policy with store.ErrNotCompleted.
func (s *Sink) OnCompleted(ctx context.Context, j *job.Job, completed bool) error {
	ctx, cancel := writeContext(ctx)
	defer cancel()

	if completed {
		if err := s.store.MarkCompleted(ctx, j); err != nil {
			return err
		}
		s.record(j, usage.OutcomeCompleted, nil)
		return nil
	}

	if err := s.store.MarkFailed(ctx, j, store.ErrNotCompleted); err != nil {
		return err
	}
	s.record(j, usage.OutcomeNotCompleted, store.ErrNotCompleted)
	return nil
}

// OnFailed hands a failed job to the store's retry policy.
func (s *Sink) OnFailed(ctx context.Context, j *job.Job, cause error) error {
	ctx, cancel := writeContext(ctx)
	defer cancel()

	if err := s.store.MarkFailed(ctx, j, cause); err != nil {
		return err
	}
	s.record(j, usage.OutcomeFailed, cause)
	return nil
}

func (s *Sink) record(j *job.Job, status string, cause error) {
	if s.config.JobRecordFn == nil {
		return
	}

	completed := s.config.Clock.Now()
	started := j.StartedAt
	if started.IsZero() {
		started = completed
	}
	r := usage.Record{
		JobID:       j.ID,
		CompanyID:   j.CompanyID,
		JobType:     j.Type,
		Retry:       j.Retry,
		Status:      status,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		WorkerID:    s.config.WorkerID,
	}
	if cause != nil {
		msg := cause.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		r.ErrorMessage = msg
	}
	s.config.JobRecordFn(r)
}

func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
