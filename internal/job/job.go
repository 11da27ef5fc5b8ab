// Package job defines the job record shared by the stores, the worker and
// the control API.
//
// A Job is created from an Input by a store, fetched by the runner, and
// marked completed or failed by the worker's sink. The store owns the retry
// counter: a failed job is re-surfaced with Retry+1 until the store's
// retry limit, then left in StatusFailed.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Job represents a unit of work to be processed.
type Job struct {
	// ID uniquely identifies this job
	ID string `json:"id"`

	// CompanyID is the owning tenant
	CompanyID string `json:"company_id"`

	// Retry counts previous failed attempts
	Retry int `json:"retry"`

	// Type determines which handler processes this job
	Type string `json:"type"`

	// Payload contains job-specific data
	Payload map[string]any `json:"payload,omitempty"`

	Status Status `json:"status"`

	// Error is the last failure message, if any
	Error string `json:"error,omitempty"`

	RunAt     time.Time `json:"run_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is set by the processor when execution begins. It is not
	// persisted.
	StartedAt time.Time `json:"-"`
}

// JobID returns the job's identifier.
func (j *Job) JobID() string { return j.ID }

// Status is the lifecycle stage of a persisted job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Input is the payload used to create a new Job.
type Input struct {
	CompanyID string         `json:"company_id" validate:"required,max=128"`
	Type      string         `json:"type" validate:"required,max=64"`
	Payload   map[string]any `json:"payload,omitempty"`

	// Delay postpones the first run.
	Delay time.Duration `json:"delay,omitempty" validate:"min=0"`
}

// ErrInvalidInput wraps validation failures from Input.Validate.
var ErrInvalidInput = errors.New("job: invalid input")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the input's required fields.
func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Filter selects jobs for listing.
type Filter struct {
	Status Status
	Limit  int
}

// DefaultListLimit caps listings when Filter.Limit is zero.
const DefaultListLimit = 50

// EffectiveLimit returns the limit to apply.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Common job types handled by the built-in handlers.
const (
	TypeShell = "shell"
	TypeEcho  = "echo"
)
