package jobs

import (
	"errors"

	"github.com/aceteam-ai/jobloop/internal/job"
)

// EchoHandler returns the payload's "message". Setting "fail" to a string
// fails the run with that message; setting "incomplete" to true reports
// ErrIncomplete. Both are handy for exercising retries end to end.
type EchoHandler struct{}

func (h *EchoHandler) Execute(ctx JobContext, j *job.Job) ([]byte, error) {
	if msg, ok := j.Payload["fail"].(string); ok && msg != "" {
		return nil, errors.New(msg)
	}
	if incomplete, _ := j.Payload["incomplete"].(bool); incomplete {
		return nil, ErrIncomplete
	}
	msg, _ := j.Payload["message"].(string)
	ctx.Log("info", "[Job %s] echo: %s", j.ID, msg)
	return []byte(msg), nil
}
