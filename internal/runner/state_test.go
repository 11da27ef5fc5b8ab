package runner

import "testing"

func TestTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     status
		ev       event
		want     status
		wantAct  action
		wantView State
	}{
		{"poll from idle", status{phase: StateIdle}, evPoll, status{phase: StatePolling}, actFetch, StatePolling},
		{"poll while halted", status{phase: StateIdle, halted: true}, evPoll, status{phase: StateIdle, halted: true}, actIgnoreHalted, StateHalted},
		{"poll during backoff", status{phase: StateBackoff}, evPoll, status{phase: StateBackoff}, actIgnoreBackoff, StateBackoff},
		{"poll while polling", status{phase: StatePolling}, evPoll, status{phase: StatePolling}, actIgnoreBusy, StatePolling},
		{"poll while executing", status{phase: StateExecuting}, evPoll, status{phase: StateExecuting}, actIgnoreBusy, StateExecuting},
		{"backoff wins over halted", status{phase: StateBackoff, halted: true}, evPoll, status{phase: StateBackoff, halted: true}, actIgnoreBackoff, StateBackoff},

		{"empty fetch arms", status{phase: StatePolling}, evFetchedNone, status{phase: StateBackoff}, actArm, StateBackoff},
		{"fetched job executes", status{phase: StatePolling}, evFetchedJob, status{phase: StateExecuting}, actNone, StateExecuting},
		{"failure arms", status{phase: StateExecuting}, evFailed, status{phase: StateBackoff}, actArm, StateBackoff},
		{"failure arms while halted", status{phase: StateExecuting, halted: true}, evFailed, status{phase: StateBackoff, halted: true}, actArm, StateBackoff},

		{"success re-polls", status{phase: StateExecuting}, evSucceeded, status{phase: StatePolling}, actFetch, StatePolling},
		{"success while halted goes idle", status{phase: StateExecuting, halted: true}, evSucceeded, status{phase: StateIdle, halted: true}, actIgnoreHalted, StateHalted},

		{"alarm re-polls", status{phase: StateBackoff}, evAlarm, status{phase: StatePolling}, actFetch, StatePolling},
		{"alarm while halted clears backoff", status{phase: StateBackoff, halted: true}, evAlarm, status{phase: StateIdle, halted: true}, actIgnoreHalted, StateHalted},
		{"stale alarm ignored", status{phase: StateIdle}, evAlarm, status{phase: StateIdle}, actNone, StateIdle},

		{"halt keeps phase", status{phase: StateBackoff}, evHalt, status{phase: StateBackoff, halted: true}, actNone, StateBackoff},
		{"halt while executing", status{phase: StateExecuting}, evHalt, status{phase: StateExecuting, halted: true}, actNone, StateExecuting},

		{"resume polls", status{phase: StateIdle, halted: true}, evResume, status{phase: StatePolling}, actFetch, StatePolling},
		{"resume bypasses pending alarm", status{phase: StateBackoff, halted: true}, evResume, status{phase: StatePolling}, actCancelFetch, StatePolling},
		{"resume without halt respects backoff", status{phase: StateBackoff}, evResume, status{phase: StateBackoff}, actIgnoreBackoff, StateBackoff},
		{"resume during cycle", status{phase: StateExecuting, halted: true}, evResume, status{phase: StateExecuting}, actIgnoreBusy, StateExecuting},

		{"abort returns to idle", status{phase: StatePolling}, evAbort, status{phase: StateIdle}, actNone, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := transition(tt.from, tt.ev)
			if got != tt.want {
				t.Errorf("transition(%+v, %s) status = %+v, want %+v", tt.from, tt.ev, got, tt.want)
			}
			if act != tt.wantAct {
				t.Errorf("transition(%+v, %s) action = %d, want %d", tt.from, tt.ev, act, tt.wantAct)
			}
			if v := got.state(); v != tt.wantView {
				t.Errorf("state() = %s, want %s", v, tt.wantView)
			}
		})
	}
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateIdle, StatePolling, StateExecuting, StateBackoff, StateHalted} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != s {
			t.Errorf("round trip %s = %s", s, got)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("UnmarshalText(sleeping) should fail")
	}
}
