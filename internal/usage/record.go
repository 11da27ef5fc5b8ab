package usage

import "time"

// Outcome values recorded for a processed job.
const (
	OutcomeCompleted    = "completed"
	OutcomeNotCompleted = "not_completed"
	OutcomeFailed       = "failed"
)

// Record captures the outcome of one processing attempt.
type Record struct {
	// Database ID (set after insert)
	ID int64

	// Job identification
	JobID     string
	CompanyID string
	JobType   string
	Retry     int

	// Outcome
	Status       string // OutcomeCompleted, OutcomeNotCompleted or OutcomeFailed
	ErrorMessage string

	// Timing
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64

	// WorkerID names the process that ran the attempt.
	WorkerID string
}

// Filter narrows a history query.
type Filter struct {
	JobID  string
	Status string
	Limit  int
}
