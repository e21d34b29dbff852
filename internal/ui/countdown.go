package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// Countdown is the usage window shown while the water runs. It counts
// whole seconds down from Total and turns to a warning at LowTime.
type Countdown struct {
	Total   time.Duration
	LowTime time.Duration

	remaining time.Duration
	running   bool
	paused    bool
	bar       progress.Model
}

// NewCountdown creates a stopped countdown
func NewCountdown(total, lowTime time.Duration) *Countdown {
	return &Countdown{
		Total:   total,
		LowTime: lowTime,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage()),
	}
}

// Start (re)starts the countdown from Total
func (c *Countdown) Start() {
	c.remaining = c.Total.Truncate(time.Second)
	c.running = true
	c.paused = false
}

// Stop halts the countdown and shows 00:00
func (c *Countdown) Stop() {
	c.remaining = 0
	c.running = false
	c.paused = false
}

// Pause freezes the countdown
func (c *Countdown) Pause() {
	if c.running {
		c.paused = true
	}
}

// Resume continues a paused countdown, charging the time spent paused
func (c *Countdown) Resume(paused time.Duration) {
	if !c.paused {
		return
	}
	c.paused = false
	c.remaining -= paused.Truncate(time.Second)
	if c.remaining <= 0 {
		c.remaining = 0
		c.running = false
	}
}

// Tick advances the countdown by one second. It returns true on the tick
// that reaches zero.
func (c *Countdown) Tick() bool {
	if !c.running || c.paused {
		return false
	}
	c.remaining -= time.Second
	if c.remaining <= 0 {
		c.remaining = 0
		c.running = false
		return true
	}
	return false
}

// Running reports whether the countdown is ticking
func (c *Countdown) Running() bool {
	return c.running && !c.paused
}

// Remaining returns the time left
func (c *Countdown) Remaining() time.Duration {
	return c.remaining
}

// Low reports whether the remaining time is inside the warning window
func (c *Countdown) Low() bool {
	return c.remaining <= c.LowTime
}

// Format returns the remaining time as mm:ss
func (c *Countdown) Format() string {
	secs := int(c.remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// SetWidth sizes the bar to the terminal
func (c *Countdown) SetWidth(width int) {
	barWidth := width - 30 // Leave room for the label and time
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	c.bar.Width = barWidth
}

// Render returns "Time left: mm:ss" with a bar of the remaining share
func (c *Countdown) Render() string {
	style := CountdownStyle
	if c.Low() {
		style = CountdownLowStyle
	}

	percent := 0.0
	if c.Total > 0 {
		percent = float64(c.remaining) / float64(c.Total)
	}
	return ProgressLabelStyle.Render(fmt.Sprintf("Time left: %s  %s", style.Render(c.Format()), c.bar.ViewAs(percent)))
}
