// Package worker turns the runner's callbacks into store and handler calls.
//
// Architecture:
//
//	store.Store → runner.Runner → Dispatcher → JobHandler
//	                         ↘ Sink → store.Store + usage.Store
//
// The Dispatcher executes a claimed job and maps the handler's JobResult to
// the runner's (completed, error) contract. The Sink writes the outcome back
// to the store, which owns retries, and appends it to the local history.
package worker

import "time"

// JobResult contains the outcome of job processing.
type JobResult struct {
	// Status is the job outcome (success, failure, retry)
	Status JobStatus

	// Output is the result data (handler-specific)
	Output map[string]any

	// Error contains error details if status is not success
	Error error

	// Duration is how long the job took to process
	Duration time.Duration
}

// JobStatus represents the outcome of job processing.
type JobStatus string

const (
	// JobStatusSuccess indicates the job completed successfully
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailure indicates the job failed
	JobStatusFailure JobStatus = "failure"

	// JobStatusRetry indicates the job ran but did not complete
	JobStatusRetry JobStatus = "retry"
)
