package ui

import (
	"strings"
	"testing"

	"github.com/waterctl/waterctl/internal/session"
)

func statuses(p *Progress) []StepStatus {
	out := make([]StepStatus, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Status
	}
	return out
}

func equalStatuses(a, b []StepStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProgress_Observe(t *testing.T) {
	tests := []struct {
		name   string
		states []session.State
		want   []StepStatus
	}{
		{
			name:   "scanning",
			states: []session.State{session.Scanning},
			want:   []StepStatus{StepRunning, StepPending, StepPending, StepPending, StepPending},
		},
		{
			name:   "handshake shares one step",
			states: []session.State{session.Scanning, session.Connecting, session.Connected, session.AwaitingHandshake},
			want:   []StepStatus{StepComplete, StepComplete, StepRunning, StepPending, StepPending},
		},
		{
			name:   "ready",
			states: []session.State{session.Scanning, session.Connecting, session.Connected, session.AwaitingHandshake, session.Ready},
			want:   []StepStatus{StepComplete, StepComplete, StepComplete, StepRunning, StepPending},
		},
		{
			name:   "failure marks the running step",
			states: []session.State{session.Scanning, session.Connecting, session.Error},
			want:   []StepStatus{StepComplete, StepFailed, StepPending, StepPending, StepPending},
		},
		{
			name:   "standby keeps the last attempt",
			states: []session.State{session.Scanning, session.Connecting, session.Error, session.Standby},
			want:   []StepStatus{StepComplete, StepFailed, StepPending, StepPending, StepPending},
		},
		{
			name:   "retry starts over",
			states: []session.State{session.Scanning, session.Connecting, session.Error, session.Scanning},
			want:   []StepStatus{StepRunning, StepPending, StepPending, StepPending, StepPending},
		},
		{
			name:   "ending",
			states: []session.State{session.Scanning, session.Connecting, session.Connected, session.AwaitingHandshake, session.Ready, session.Ending},
			want:   []StepStatus{StepComplete, StepComplete, StepComplete, StepComplete, StepRunning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgress("")
			for _, s := range tt.states {
				p.Observe(s)
			}
			if got := statuses(p); !equalStatuses(got, tt.want) {
				t.Errorf("statuses = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgress_Current(t *testing.T) {
	p := NewProgress("")
	if p.Current() != nil {
		t.Fatal("Current() should be nil before any stage")
	}
	p.Observe(session.Connecting)
	cur := p.Current()
	if cur == nil || cur.Name != "Connecting" {
		t.Fatalf("Current() = %+v, want Connecting", cur)
	}
}

func TestProgress_Render(t *testing.T) {
	p := NewProgress("Starting session")
	p.Observe(session.Connecting)
	p.UpdateStep(2, StepRunning, "attempt 2")

	out := p.Render()
	for _, want := range []string{"Starting session", "[1/5]", "Scanning for controller", StepMarkerComplete, "(attempt 2)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}
