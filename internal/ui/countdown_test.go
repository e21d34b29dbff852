package ui

import (
	"strings"
	"testing"
	"time"
)

func TestCountdown_Format(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      string
	}{
		{420 * time.Second, "07:00"},
		{121 * time.Second, "02:01"},
		{59 * time.Second, "00:59"},
		{0, "00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			c := NewCountdown(tt.remaining, 120*time.Second)
			c.Start()
			if got := c.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountdown_LowTime(t *testing.T) {
	c := NewCountdown(122*time.Second, 120*time.Second)
	c.Start()
	if c.Low() {
		t.Fatal("Low() = true at 02:02")
	}
	c.Tick()
	if c.Low() {
		t.Fatal("Low() = true at 02:01")
	}
	c.Tick()
	if !c.Low() {
		t.Errorf("Low() = false at %s, want true", c.Format())
	}
}

func TestCountdown_RunsOut(t *testing.T) {
	c := NewCountdown(3*time.Second, time.Second)
	c.Start()

	for i := 0; i < 2; i++ {
		if c.Tick() {
			t.Fatalf("Tick() %d reported the end early", i+1)
		}
	}
	if !c.Tick() {
		t.Fatal("third Tick() should report the end")
	}
	if c.Running() {
		t.Error("Running() = true after the end")
	}
	if c.Tick() {
		t.Error("Tick() after the end should be a no-op")
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining() = %v, want 0", c.Remaining())
	}
}

func TestCountdown_StopShowsZero(t *testing.T) {
	c := NewCountdown(420*time.Second, 120*time.Second)
	c.Start()
	c.Tick()
	c.Stop()
	if c.Running() {
		t.Error("Running() = true after Stop")
	}
	if got := c.Format(); got != "00:00" {
		t.Errorf("Format() after Stop = %q, want 00:00", got)
	}
}

func TestCountdown_PauseResume(t *testing.T) {
	c := NewCountdown(60*time.Second, 10*time.Second)
	c.Start()
	c.Pause()
	if c.Running() {
		t.Fatal("Running() = true while paused")
	}
	c.Tick()
	if got := c.Format(); got != "01:00" {
		t.Fatalf("paused Tick() moved the countdown to %s", got)
	}

	c.Resume(5500 * time.Millisecond)
	if got := c.Format(); got != "00:55" {
		t.Errorf("Format() after Resume = %q, want 00:55", got)
	}
	if !c.Running() {
		t.Error("Running() = false after Resume")
	}
}

func TestCountdown_Render(t *testing.T) {
	c := NewCountdown(420*time.Second, 120*time.Second)
	c.Start()
	out := c.Render()
	if !strings.Contains(out, "Time left:") || !strings.Contains(out, "07:00") {
		t.Errorf("Render() = %q, want the label and 07:00", out)
	}
}
