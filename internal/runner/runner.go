// Package runner provides a single-slot job polling and execution loop.
//
// A Runner repeatedly asks a job source for one pending job, executes it,
// and reschedules itself from the outcome:
//
//	QueryNextJob → ProcessJob → OnJobCompleted/OnJobFailed → poll again
//
// A successful job re-polls immediately. An empty fetch, a reported failure
// or a processing fault arms a one-shot alarm and polls again after
// TickRate. At most one cycle and at most one pending alarm exist at any
// time; every entry point (Poll, Submit, Resume and the alarm) goes through
// the same locked transition.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickRate is the backoff before re-polling after an empty fetch or
// a failed job.
const DefaultTickRate = 5 * time.Second

// Identifiable is satisfied by job records. The Runner only uses the ID,
// for log correlation.
type Identifiable interface {
	JobID() string
}

// Tx is an opaque transaction handle forwarded from Submit to InsertJob.
type Tx any

// Config wires a Runner to its collaborators. It is immutable once passed
// to New.
type Config[J Identifiable, I any] struct {
	// QueryNextJob fetches at most one ready job. found is false when the
	// source has nothing to run.
	QueryNextJob func(ctx context.Context) (job J, found bool, err error)

	// InsertJob persists a new job. tx is whatever the caller passed to
	// Submit, possibly nil.
	InsertJob func(ctx context.Context, input I, tx Tx) (J, error)

	// ProcessJob executes a job and reports whether it completed. A non-nil
	// error (or a panic) is a processing fault.
	ProcessJob func(ctx context.Context, job J) (bool, error)

	// OnJobCompleted is called after every ProcessJob call that did not fail.
	OnJobCompleted func(ctx context.Context, job J, completed bool) error

	// OnJobFailed is called when ProcessJob returns an error or panics.
	OnJobFailed func(ctx context.Context, job J, err error) error

	// LogJob receives one trace line per significant event. Optional.
	LogJob func(msg string)

	// TickRate defaults to DefaultTickRate.
	TickRate time.Duration

	// Alarm defaults to a ClockAlarm on the real clock.
	Alarm Alarm
}

// Snapshot is a point-in-time view of a Runner.
type Snapshot struct {
	State        State  `json:"state"`
	Halted       bool   `json:"halted"`
	AlarmPending bool   `json:"alarm_pending"`
	Polls        uint64 `json:"polls"`
	EmptyFetches uint64 `json:"empty_fetches"`
	Completed    uint64 `json:"completed"`
	NotCompleted uint64 `json:"not_completed"`
	Failed       uint64 `json:"failed"`
}

// Runner owns the poll/execute/backoff loop for one job slot.
type Runner[J Identifiable, I any] struct {
	cfg   Config[J, I]
	alarm Alarm

	mu      sync.Mutex
	st      status
	handle  Handle
	gen     uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	faults chan error

	polls        atomic.Uint64
	emptyFetches atomic.Uint64
	completed    atomic.Uint64
	notCompleted atomic.Uint64
	failed       atomic.Uint64
}

// New validates cfg and returns an idle Runner. Nothing is fetched until
// Poll, Submit, Resume or Run is called.
func New[J Identifiable, I any](cfg Config[J, I]) (*Runner[J, I], error) {
	switch {
	case cfg.QueryNextJob == nil:
		return nil, fmt.Errorf("%w: QueryNextJob", ErrMissingCallback)
	case cfg.InsertJob == nil:
		return nil, fmt.Errorf("%w: InsertJob", ErrMissingCallback)
	case cfg.ProcessJob == nil:
		return nil, fmt.Errorf("%w: ProcessJob", ErrMissingCallback)
	case cfg.OnJobCompleted == nil:
		return nil, fmt.Errorf("%w: OnJobCompleted", ErrMissingCallback)
	case cfg.OnJobFailed == nil:
		return nil, fmt.Errorf("%w: OnJobFailed", ErrMissingCallback)
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	alarm := cfg.Alarm
	if alarm == nil {
		alarm = NewClockAlarm(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner[J, I]{
		cfg:    cfg,
		alarm:  alarm,
		ctx:    ctx,
		cancel: cancel,
		faults: make(chan error, 1),
	}, nil
}

// TickRate returns the configured backoff delay.
func (r *Runner[J, I]) TickRate() time.Duration { return r.cfg.TickRate }

// Faults delivers the first collaborator fault. Hosts that do not use Run
// should watch it.
func (r *Runner[J, I]) Faults() <-chan error { return r.faults }

// Run polls once and blocks until ctx is done or a collaborator fault ends
// the loop. It stops the runner before returning and returns the fault, if
// any.
func (r *Runner[J, I]) Run(ctx context.Context) error {
	r.Poll()

	var err error
	select {
	case <-ctx.Done():
	case err = <-r.faults:
	}
	r.Stop()
	return err
}

// Stop cancels the pending alarm, cancels the context passed to
// collaborators and waits for the in-flight cycle. A stopped runner ignores
// every entry point.
func (r *Runner[J, I]) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		r.cancelAlarmLocked()
		if r.st.phase == StateBackoff {
			r.st.phase = StateIdle
		}
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// Poll starts a fetch cycle unless an alarm is pending, the runner is
// halted, or a cycle is already in flight. It reports whether a cycle was
// started.
func (r *Runner[J, I]) Poll() bool {
	act := r.step(evPoll)
	r.explain(act)
	return r.spawn(act)
}

// Submit inserts a job through InsertJob, then polls. A submission made
// while an alarm is pending is picked up when the alarm fires.
func (r *Runner[J, I]) Submit(ctx context.Context, input I, tx Tx) (J, error) {
	var zero J
	if r.isStopped() {
		return zero, ErrStopped
	}

	job, err := r.cfg.InsertJob(ctx, input, tx)
	if err != nil {
		return zero, err
	}
	r.logf(job.JobID(), "submitted")

	r.Poll()
	return job, nil
}

// Halt suppresses polling until Resume. It cancels neither the pending
// alarm nor the in-flight job.
func (r *Runner[J, I]) Halt() {
	r.step(evHalt)
	r.logf("", "halted")
}

// Resume lifts a halt and polls immediately. If the alarm was still pending
// when the runner was resumed it is cancelled, so the fetch happens now.
func (r *Runner[J, I]) Resume() bool {
	act := r.step(evResume)
	r.logf("", "resumed")
	r.explain(act)
	return r.spawn(act)
}

// State returns the current phase.
func (r *Runner[J, I]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.state()
}

// Snapshot returns the current state and lifetime counters.
func (r *Runner[J, I]) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{
		State:        r.st.state(),
		Halted:       r.st.halted,
		AlarmPending: r.handle != nil,
	}
	r.mu.Unlock()

	s.Polls = r.polls.Load()
	s.EmptyFetches = r.emptyFetches.Load()
	s.Completed = r.completed.Load()
	s.NotCompleted = r.notCompleted.Load()
	s.Failed = r.failed.Load()
	return s
}

// step applies ev under the lock and performs the bookkeeping its action
// needs before the lock is released.
func (r *Runner[J, I]) step(ev event) action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepLocked(ev)
}

func (r *Runner[J, I]) stepLocked(ev event) action {
	next, act := transition(r.st, ev)
	if r.stopped {
		switch act {
		case actFetch, actArm, actCancelFetch:
			next.phase = StateIdle
			act = actNone
		}
	}
	r.st = next

	switch act {
	case actFetch:
		r.polls.Add(1)
		r.wg.Add(1)
	case actCancelFetch:
		r.cancelAlarmLocked()
		r.polls.Add(1)
		r.wg.Add(1)
	case actArm:
		r.armLocked()
	}
	return act
}

func (r *Runner[J, I]) armLocked() {
	r.gen++
	gen := r.gen
	r.handle = r.alarm.Arm(r.cfg.TickRate, func() { r.onAlarm(gen) })
}

func (r *Runner[J, I]) cancelAlarmLocked() {
	if r.handle != nil {
		r.alarm.Cancel(r.handle)
		r.handle = nil
	}
	r.gen++
}

// onAlarm is the alarm callback. Alarms cancelled after they started
// firing carry a stale generation and are dropped.
func (r *Runner[J, I]) onAlarm(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.handle == nil {
		r.mu.Unlock()
		return
	}
	r.handle = nil
	act := r.stepLocked(evAlarm)
	r.mu.Unlock()

	r.logf("", "tick")
	r.explain(act)
	r.spawn(act)
}

func (r *Runner[J, I]) spawn(act action) bool {
	if act != actFetch && act != actCancelFetch {
		return false
	}
	go r.loop()
	return true
}

func (r *Runner[J, I]) explain(act action) {
	switch act {
	case actIgnoreHalted:
		r.logf("", "poll ignored: halted")
	case actIgnoreBackoff:
		r.logf("", "poll ignored: backoff pending")
	case actIgnoreBusy:
		r.logf("", "poll ignored: cycle in flight")
	}
}

// loop runs admitted cycles back to back while jobs keep succeeding.
func (r *Runner[J, I]) loop() {
	for r.cycle() {
	}
}

// cycle runs one admitted fetch/execute cycle and reports whether the next
// one was admitted.
func (r *Runner[J, I]) cycle() bool {
	defer r.wg.Done()

	r.logf("", "getJob")
	job, found, err := r.cfg.QueryNextJob(r.ctx)
	if err != nil {
		r.fault(&FaultError{Op: "query next job", Err: err})
		return false
	}
	if !found {
		r.emptyFetches.Add(1)
		r.step(evFetchedNone)
		r.logf("", "idle, next poll in %s", r.cfg.TickRate)
		return false
	}

	r.step(evFetchedJob)
	return r.runJob(job)
}

func (r *Runner[J, I]) runJob(job J) bool {
	id := job.JobID()
	r.logf(id, "started")

	completed, err := r.process(job)
	if err != nil {
		r.failed.Add(1)
		r.logf(id, "failed: %v", err)
		if ferr := r.cfg.OnJobFailed(r.ctx, job, err); ferr != nil {
			r.fault(&FaultError{Op: "on job failed", JobID: id, Err: ferr})
			return false
		}
		r.step(evFailed)
		return false
	}

	if completed {
		r.completed.Add(1)
		r.logf(id, "completed")
	} else {
		r.notCompleted.Add(1)
		r.logf(id, "not completed")
	}
	if cerr := r.cfg.OnJobCompleted(r.ctx, job, completed); cerr != nil {
		r.fault(&FaultError{Op: "on job completed", JobID: id, Err: cerr})
		return false
	}

	if !completed {
		r.step(evFailed)
		return false
	}
	act := r.step(evSucceeded)
	r.explain(act)
	return act == actFetch
}

// process calls ProcessJob, converting a panic into a processing fault.
func (r *Runner[J, I]) process(job J) (completed bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			completed = false
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return r.cfg.ProcessJob(r.ctx, job)
}

// fault ends the loop without arming an alarm and hands err to the host.
func (r *Runner[J, I]) fault(err error) {
	r.step(evAbort)
	r.logf("", "%v", err)
	select {
	case r.faults <- err:
	default:
	}
}

func (r *Runner[J, I]) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Runner[J, I]) logf(jobID, format string, args ...any) {
	if r.cfg.LogJob == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jobID != "" {
		msg = jobID + ": " + msg
	}
	r.cfg.LogJob(msg)
}
