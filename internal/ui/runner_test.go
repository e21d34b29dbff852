package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/session"
)

func newTestRunner(verbose bool) (*Runner, *bytes.Buffer) {
	var buf bytes.Buffer
	r := NewRunner(RunnerConfig{
		Command: "waterctl start --plain",
		Params:  []Param{{Key: "Device", Value: "Water36088"}},
		Verbose: verbose,
		Output:  &buf,
	})
	r.SetWidth(80)
	return r, &buf
}

func drain(r *Runner) []Outcome {
	var out []Outcome
	for {
		select {
		case o := <-r.Outcomes():
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestRunner_FullSession(t *testing.T) {
	r, buf := newTestRunner(false)
	r.PrintHeader()

	for _, s := range []session.State{session.Scanning, session.Connecting, session.Connected, session.AwaitingHandshake, session.Ready} {
		r.StageChanged(s)
	}
	r.SessionReady()
	r.StageChanged(session.Ending)
	r.SessionEnded()
	r.StageChanged(session.Standby)

	got := drain(r)
	if len(got) != 2 || got[0].Kind != OutcomeReady || got[1].Kind != OutcomeEnded {
		t.Fatalf("outcomes = %+v, want Ready then Ended", got)
	}

	out := buf.String()
	for _, want := range []string{"WATER CONTROLLER", "Water36088", "Scanning for controller", "Handshake", "Water running", "Session ended"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunner_FailureSettles(t *testing.T) {
	r, buf := newTestRunner(false)

	r.StageChanged(session.Scanning)
	r.StageChanged(session.Connecting)
	r.StageChanged(session.Connected)
	r.StageChanged(session.AwaitingHandshake)
	r.StageChanged(session.Error)
	r.FatalError(fault.Classify(fault.NewRefused([]byte{0xFD, 0xFD, 0x09, 0xC8})), []string{"RXD: FDFD09C8"})
	r.StageChanged(session.Standby)

	got := drain(r)
	if len(got) != 1 || got[0].Kind != OutcomeFailed {
		t.Fatalf("outcomes = %+v, want one failure", got)
	}
	if !fault.IsProtocolError(got[0].Verdict.Err, fault.ReasonRefused) {
		t.Errorf("failure verdict = %v, want the refusal", got[0].Verdict.Err)
	}

	out := buf.String()
	for _, want := range []string{"FAILED", "Controller refused to start", "RXD: FDFD09C8"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunner_RetryIsNotAnOutcome(t *testing.T) {
	r, buf := newTestRunner(false)

	r.StageChanged(session.Scanning)
	r.StageChanged(session.Error)
	r.FatalError(fault.Classify(fault.ErrDeviceNotFound), nil)
	r.StageChanged(session.Scanning)

	if got := drain(r); len(got) != 0 {
		t.Fatalf("outcomes = %+v, want none while retrying", got)
	}
	if !strings.Contains(buf.String(), "WARNING") {
		t.Error("a retryable failure should print as a warning")
	}
}

func TestRunner_ManualStop(t *testing.T) {
	r, _ := newTestRunner(false)
	r.StageChanged(session.Scanning)
	r.StageChanged(session.Standby)

	got := drain(r)
	if len(got) != 1 || got[0].Kind != OutcomeStopped {
		t.Fatalf("outcomes = %+v, want Stopped", got)
	}
}

func TestRunner_VerboseDiagnostics(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, buf := newTestRunner(tt.verbose)
			// Timeouts are retryable, so the transcript is optional.
			r.FatalError(fault.Classify(fault.ErrHandshakeTimeout), []string{"TXD: FEFE09B2"})
			if got := strings.Contains(buf.String(), "TXD: FEFE09B2"); got != tt.want {
				t.Errorf("transcript printed = %v, want %v", got, tt.want)
			}
		})
	}
}
