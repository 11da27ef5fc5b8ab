package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/store"
)

func newTestStore(t *testing.T) (*Store, interface{ Advance(time.Duration) }) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return New(store.Options{MaxRetries: 1, RetryDelay: time.Minute, Clock: clock}), clock
}

func TestQueryNextJobFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho}, nil)
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	second, err := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho}, nil)
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.QueryNextJob(ctx)
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("QueryNextJob = %v, %v; want %s", got, err, first.ID)
	}
	if got.Status != job.StatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}

	got, _ = s.QueryNextJob(ctx)
	if got == nil || got.ID != second.ID {
		t.Fatalf("second QueryNextJob = %v, want %s", got, second.ID)
	}

	got, err = s.QueryNextJob(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty QueryNextJob = %v, %v; want nil, nil", got, err)
	}
}

func TestDelayedJob(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho, Delay: time.Minute}, nil); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if got, _ := s.QueryNextJob(ctx); got != nil {
		t.Fatal("delayed job should not be runnable yet")
	}
	clock.Advance(time.Minute)
	if got, _ := s.QueryNextJob(ctx); got == nil {
		t.Fatal("delayed job should be runnable after its delay")
	}
}

func TestMarkFailedRetriesThenDies(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	j, _ := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeShell}, nil)
	claimed, _ := s.QueryNextJob(ctx)

	if err := s.MarkFailed(ctx, claimed, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending || got.Retry != 1 || got.Error != "boom" {
		t.Fatalf("after first failure = %+v", got)
	}
	if next, _ := s.QueryNextJob(ctx); next != nil {
		t.Fatal("retry should wait for RetryDelay")
	}

	clock.Advance(time.Minute)
	claimed, _ = s.QueryNextJob(ctx)
	if claimed == nil || claimed.Retry != 1 {
		t.Fatalf("re-surfaced job = %+v", claimed)
	}
	if err := s.MarkFailed(ctx, claimed, errors.New("boom again")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
}

func TestMarkCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	j, _ := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho}, nil)
	if err := s.MarkCompleted(ctx, j); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	if err := s.MarkCompleted(ctx, &job.Job{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkCompleted(missing) = %v, want ErrNotFound", err)
	}
}

func TestInsertJobRejects(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho}, struct{}{}); !errors.Is(err, store.ErrUnsupportedTx) {
		t.Errorf("InsertJob(tx) = %v, want ErrUnsupportedTx", err)
	}
	if _, err := s.InsertJob(ctx, job.Input{Type: job.TypeEcho}, nil); !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("InsertJob(invalid) = %v, want ErrInvalidInput", err)
	}
}

func TestListJobs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		j, _ := s.InsertJob(ctx, job.Input{CompanyID: "acme", Type: job.TypeEcho}, nil)
		ids = append(ids, j.ID)
	}
	claimed, _ := s.QueryNextJob(ctx)
	_ = s.MarkCompleted(ctx, claimed)

	all, _ := s.ListJobs(ctx, job.Filter{})
	if len(all) != 3 || all[0].ID != ids[2] {
		t.Fatalf("ListJobs = %d jobs, first %v; want newest first", len(all), all[0])
	}

	pending, _ := s.ListJobs(ctx, job.Filter{Status: job.StatusPending, Limit: 1})
	if len(pending) != 1 || pending[0].Status != job.StatusPending {
		t.Errorf("pending listing = %+v", pending)
	}
}
