package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("runner: stopped")

	// ErrMissingCallback is returned by New when a required function is nil.
	ErrMissingCallback = errors.New("runner: missing required callback")
)

// FaultError wraps an error returned by a collaborator (QueryNextJob,
// OnJobCompleted or OnJobFailed). A fault ends the loop and is handed to
// the host.
type FaultError struct {
	Op    string
	JobID string
	Err   error
}

func (e *FaultError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("runner: %s (job %s): %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("runner: %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// PanicError is the processing fault recorded when ProcessJob panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("process job panicked: %v", e.Value)
}
