package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history", "usage_test.db")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(tempDBPath(t))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStoreCreatesFile(t *testing.T) {
	path := tempDBPath(t)
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("database file should exist after OpenStore")
	}
}

func TestInsertAndQuery(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := Record{
		JobID:        "job-001",
		CompanyID:    "acme",
		JobType:      "shell",
		Retry:        1,
		Status:       OutcomeFailed,
		ErrorMessage: "exit status 1",
		StartedAt:    now,
		CompletedAt:  now.Add(1500 * time.Millisecond),
		DurationMs:   1500,
		WorkerID:     "jobloop-test",
	}
	if err := store.Insert(record); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	records, err := store.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.ID == 0 {
		t.Error("ID should be set")
	}
	if r.JobID != "job-001" || r.CompanyID != "acme" || r.JobType != "shell" {
		t.Errorf("identity = %+v", r)
	}
	if r.Retry != 1 || r.Status != OutcomeFailed || r.ErrorMessage != "exit status 1" {
		t.Errorf("outcome = %+v", r)
	}
	if !r.StartedAt.Equal(now) || !r.CompletedAt.Equal(now.Add(1500*time.Millisecond)) {
		t.Errorf("times = %s, %s", r.StartedAt, r.CompletedAt)
	}
	if r.DurationMs != 1500 || r.WorkerID != "jobloop-test" {
		t.Errorf("duration/worker = %d, %q", r.DurationMs, r.WorkerID)
	}
}

func TestQueryFilters(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	for _, r := range []Record{
		{JobID: "a", JobType: "echo", Status: OutcomeCompleted},
		{JobID: "b", JobType: "shell", Status: OutcomeFailed},
		{JobID: "b", JobType: "shell", Retry: 1, Status: OutcomeCompleted},
		{JobID: "c", JobType: "shell", Status: OutcomeNotCompleted},
	} {
		r.StartedAt, r.CompletedAt = now, now
		if err := store.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	byJob, _ := store.Query(Filter{JobID: "b"})
	if len(byJob) != 2 || byJob[0].Retry != 1 {
		t.Errorf("job b history = %+v; want 2 records, newest first", byJob)
	}

	completed, _ := store.Query(Filter{Status: OutcomeCompleted})
	if len(completed) != 2 {
		t.Errorf("completed = %d records, want 2", len(completed))
	}

	limited, _ := store.Query(Filter{Limit: 1})
	if len(limited) != 1 || limited[0].JobID != "c" {
		t.Errorf("limited = %+v", limited)
	}

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[OutcomeCompleted] != 2 || counts[OutcomeFailed] != 1 || counts[OutcomeNotCompleted] != 1 {
		t.Errorf("Counts = %v", counts)
	}
}
