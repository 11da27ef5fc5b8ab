package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/aceteam-ai/jobloop/internal/job"
)

// DefaultShellTimeout bounds a command when the handler has no Timeout.
const DefaultShellTimeout = 5 * time.Minute

var (
	// ErrMissingCommand is returned when the payload has no "command".
	ErrMissingCommand = errors.New("job payload missing 'command' field")

	// ErrCommandNotAllowed is returned for commands outside the allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")
)

// ShellCommandHandler runs the payload's "command" without a shell. The
// program must match an AllowedCommands entry exactly: a bare name is
// resolved through PATH, and a path only runs when that same path is
// listed. An empty list allows nothing.
type ShellCommandHandler struct {
	AllowedCommands []string
	Timeout         time.Duration
}

// Execute runs the command and returns its combined output. A command cut
// off by the timeout yields ErrIncomplete.
func (h *ShellCommandHandler) Execute(ctx JobContext, j *job.Job) ([]byte, error) {
	cmdString, _ := j.Payload["command"].(string)
	parts := strings.Fields(cmdString)
	if len(parts) == 0 {
		return nil, ErrMissingCommand
	}
	if !h.allowed(parts[0]) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, parts[0])
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx.Context(), timeout)
	defer cancel()

	ctx.Log("info", "[Job %s] Running shell command: '%s'", j.ID, cmdString)
	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("%w: timed out after %s", ErrIncomplete, timeout)
	}
	return output, err
}

func (h *ShellCommandHandler) allowed(name string) bool {
	return slices.Contains(h.AllowedCommands, name)
}
