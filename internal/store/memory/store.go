// Package memory provides an in-memory job store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in a map. Safe for concurrent access. Transaction
// handles are not supported.
type Store struct {
	mu    sync.RWMutex
	opts  store.Options
	jobs  map[string]*job.Job
	order map[string]uint64 // insertion sequence, breaks RunAt ties
	seq   uint64
}

// New returns an empty store.
func New(opts store.Options) *Store {
	return &Store{
		opts:  opts.WithDefaults(),
		jobs:  make(map[string]*job.Job),
		order: make(map[string]uint64),
	}
}

// QueryNextJob claims the pending job with the earliest RunAt.
func (m *Store) QueryNextJob(_ context.Context) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock.Now().UTC()
	var next *job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusPending || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && m.order[j.ID] < m.order[next.ID]) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = job.StatusRunning
	next.UpdatedAt = now
	// Return a copy so callers can mutate without racing with the store.
	cp := *next
	return &cp, nil
}

// InsertJob stores a new pending job. tx must be nil.
func (m *Store) InsertJob(_ context.Context, in job.Input, tx any) (*job.Job, error) {
	if tx != nil {
		return nil, store.ErrUnsupportedTx
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := m.opts.Clock.Now().UTC()
	j := &job.Job{
		ID:        uuid.New().String(),
		CompanyID: in.CompanyID,
		Type:      in.Type,
		Payload:   in.Payload,
		Status:    job.StatusPending,
		RunAt:     now.Add(in.Delay),
		CreatedAt: now,
		UpdatedAt: now,
	}

	cp := *j

	m.mu.Lock()
	m.seq++
	m.jobs[j.ID] = j
	m.order[j.ID] = m.seq
	m.mu.Unlock()

	return &cp, nil
}

// MarkCompleted sets the job's status to completed.
func (m *Store) MarkCompleted(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.Status = job.StatusCompleted
	stored.Error = ""
	stored.UpdatedAt = m.opts.Clock.Now().UTC()
	return nil
}

// MarkFailed applies the retry policy.
func (m *Store) MarkFailed(_ context.Context, j *job.Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	now := m.opts.Clock.Now().UTC()
	out := store.NextAttempt(stored, cause, m.opts, now)
	stored.Status = out.Status
	stored.Retry = out.Retry
	stored.RunAt = out.RunAt
	stored.Error = out.Error
	stored.UpdatedAt = now
	return nil
}

// GetJob returns a copy of the job.
func (m *Store) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs newest first.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return m.order[out[i].ID] > m.order[out[k].ID]
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
