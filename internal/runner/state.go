package runner

import "fmt"

// State is the observable phase of a Runner.
type State int

const (
	// StateIdle means no alarm is pending and no cycle is running.
	StateIdle State = iota
	// StatePolling means a QueryNextJob call is outstanding.
	StatePolling
	// StateExecuting means a fetched job is being processed.
	StateExecuting
	// StateBackoff means an alarm is pending before the next poll.
	StateBackoff
	// StateHalted means the runner is idle and polls are suppressed.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateExecuting:
		return "executing"
	case StateBackoff:
		return "backoff"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StatePolling, StateExecuting, StateBackoff, StateHalted} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("runner: unknown state %q", b)
}

// status is the runner's complete in-memory state. The phase and the halted
// flag are independent: halting never moves the phase.
type status struct {
	phase  State // never StateHalted
	halted bool
}

// state folds the halted flag into the reported phase.
func (s status) state() State {
	if s.halted && s.phase == StateIdle {
		return StateHalted
	}
	return s.phase
}

type event int

const (
	evPoll event = iota
	evFetchedNone
	evFetchedJob
	evSucceeded
	evFailed
	evAlarm
	evHalt
	evResume
	evAbort
)

func (e event) String() string {
	switch e {
	case evPoll:
		return "poll"
	case evFetchedNone:
		return "fetched-none"
	case evFetchedJob:
		return "fetched-job"
	case evSucceeded:
		return "succeeded"
	case evFailed:
		return "failed"
	case evAlarm:
		return "alarm"
	case evHalt:
		return "halt"
	case evResume:
		return "resume"
	case evAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// action tells the caller of transition what side effect to perform.
type action int

const (
	actNone action = iota
	// actFetch starts a new cycle.
	actFetch
	// actArm arms the backoff alarm.
	actArm
	// actCancelFetch cancels the pending alarm, then starts a new cycle.
	actCancelFetch
	actIgnoreHalted
	actIgnoreBackoff
	actIgnoreBusy
)

// transition is the runner's state machine. It has no side effects; the
// Runner applies the returned status and performs the action while holding
// its mutex, which makes every check-and-transition atomic.
func transition(s status, ev event) (status, action) {
	switch ev {
	case evPoll:
		return poll(s)

	case evFetchedNone, evFailed:
		s.phase = StateBackoff
		return s, actArm

	case evFetchedJob:
		s.phase = StateExecuting
		return s, actNone

	case evSucceeded:
		s.phase = StateIdle
		return poll(s)

	case evAlarm:
		if s.phase != StateBackoff {
			return s, actNone
		}
		s.phase = StateIdle
		return poll(s)

	case evHalt:
		s.halted = true
		return s, actNone

	case evResume:
		wasHalted := s.halted
		s.halted = false
		if wasHalted && s.phase == StateBackoff {
			s.phase = StatePolling
			return s, actCancelFetch
		}
		return poll(s)

	case evAbort:
		s.phase = StateIdle
		return s, actNone
	}
	return s, actNone
}

// poll admits a new cycle only from an idle, non-halted runner.
func poll(s status) (status, action) {
	switch {
	case s.phase == StateBackoff:
		return s, actIgnoreBackoff
	case s.halted:
		return s, actIgnoreHalted
	case s.phase != StateIdle:
		return s, actIgnoreBusy
	}
	s.phase = StatePolling
	return s, actFetch
}
