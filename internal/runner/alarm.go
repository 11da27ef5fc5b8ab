package runner

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle identifies an armed alarm.
type Handle interface {
	// Stop prevents the alarm from firing. It reports whether the call
	// stopped the alarm before it fired.
	Stop() bool
}

// Alarm schedules one-shot wake-ups.
//
// Arm must not invoke fire synchronously; the Runner arms alarms while
// holding its own lock and fire takes that same lock.
type Alarm interface {
	Arm(d time.Duration, fire func()) Handle
	Cancel(h Handle)
}

// ClockAlarm is an Alarm backed by a clockwork.Clock. Pass
// clockwork.NewRealClock() in production and a fake clock in tests.
type ClockAlarm struct {
	clock clockwork.Clock
}

// NewClockAlarm returns an alarm that schedules on clock.
func NewClockAlarm(clock clockwork.Clock) *ClockAlarm {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockAlarm{clock: clock}
}

// Arm schedules fire to run on its own goroutine after d.
func (a *ClockAlarm) Arm(d time.Duration, fire func()) Handle {
	return a.clock.AfterFunc(d, fire)
}

// Cancel stops h. A nil handle is ignored.
func (a *ClockAlarm) Cancel(h Handle) {
	if h != nil {
		h.Stop()
	}
}

var _ Alarm = (*ClockAlarm)(nil)
