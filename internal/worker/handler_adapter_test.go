package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/jobs"
)

// TestExecutor is a mock jobs.JobHandler for testing.
type TestExecutor struct {
	err    error
	output string
}

func (h *TestExecutor) Execute(ctx jobs.JobContext, j *job.Job) ([]byte, error) {
	ctx.Log("info", "executing %s", j.ID)
	return []byte(h.output), h.err
}

func TestHandlerAdapterCanHandle(t *testing.T) {
	adapter := NewHandlerAdapter("test", &TestExecutor{})

	tests := []struct {
		jobType string
		want    bool
	}{
		{"test", true},
		{"other", false},
		{"TEST", false}, // case sensitive
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.jobType, func(t *testing.T) {
			if got := adapter.CanHandle(tt.jobType); got != tt.want {
				t.Errorf("CanHandle(%q) = %v, want %v", tt.jobType, got, tt.want)
			}
		})
	}
}

func TestHandlerAdapterExecute(t *testing.T) {
	tests := []struct {
		name       string
		executor   *TestExecutor
		wantStatus JobStatus
		wantErr    bool
	}{
		{"success", &TestExecutor{output: "ok"}, JobStatusSuccess, false},
		{"failure", &TestExecutor{output: "partial", err: errors.New("exit status 1")}, JobStatusFailure, true},
		{"incomplete", &TestExecutor{err: fmt.Errorf("%w: timed out", jobs.ErrIncomplete)}, JobStatusRetry, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewHandlerAdapter("test", tt.executor)
			result, err := adapter.Execute(context.Background(), &job.Job{ID: "j1", Type: "test"})

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if result == nil {
				t.Fatal("result should never be nil")
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", result.Status, tt.wantStatus)
			}
			if result.Output["output"] != tt.executor.output {
				t.Errorf("Output = %v", result.Output)
			}
		})
	}
}

func TestHandlerAdapterForwardsLogs(t *testing.T) {
	adapter := NewHandlerAdapter("test", &TestExecutor{})
	var msgs []string
	adapter.SetLogFn(func(level, msg string) { msgs = append(msgs, msg) })

	if _, err := adapter.Execute(context.Background(), &job.Job{ID: "j9"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != "executing j9" {
		t.Errorf("logs = %v", msgs)
	}
}

func TestCreateHandlers(t *testing.T) {
	handlers := CreateHandlers(HandlersConfig{}, nil)
	if len(handlers) != 1 || !handlers[0].CanHandle(job.TypeEcho) {
		t.Fatalf("default handlers = %d, want echo only", len(handlers))
	}

	handlers = CreateHandlers(HandlersConfig{ShellEnabled: true, AllowedCommands: []string{"echo"}}, func(string, string) {})
	if len(handlers) != 2 || !handlers[1].CanHandle(job.TypeShell) {
		t.Errorf("with shell = %d handlers, want echo and shell", len(handlers))
	}
}
