package reconnect

import (
	"time"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// Quality is advisory link health. It never gates a retry, it only
// lengthens the delay.
type Quality struct {
	ErrorCount          int
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
}

// Supervisor tracks reconnect attempts for one session.
// It is not safe for concurrent use; the session owns it.
type Supervisor struct {
	policy   Policy
	clock    Clock
	attempts int
	manual   bool
	quality  Quality
	decayed  time.Time
}

// NewSupervisor creates a supervisor with the given policy
func NewSupervisor(policy Policy, clock Clock) *Supervisor {
	return &Supervisor{policy: policy, clock: clock}
}

// Next claims the next automatic attempt. It returns false when the
// disconnect was manual or attempts are exhausted; the caller then settles
// in Standby until an explicit start.
func (s *Supervisor) Next() (time.Duration, bool) {
	if s.manual || s.attempts >= s.policy.MaxAttempts {
		return 0, false
	}
	s.attempts++
	s.decay()

	delay := s.policy.Delay(s.attempts)
	if s.policy.PenaltyThreshold > 0 && s.quality.ConsecutiveFailures >= s.policy.PenaltyThreshold && s.policy.PenaltyFactor > 1 {
		delay = s.policy.capped(float64(delay) * s.policy.PenaltyFactor)
	}
	return delay, true
}

// RecordFailure notes a failed session or attempt
func (s *Supervisor) RecordFailure() {
	s.decay()
	s.quality.ErrorCount++
	s.quality.ConsecutiveFailures++
	s.quality.LastFailure = s.clock.Now()
}

// Succeeded is called on entry into Ready: attempts and the manual flag are
// cleared and the failure streak ends.
func (s *Supervisor) Succeeded() {
	s.attempts = 0
	s.manual = false
	s.quality.ConsecutiveFailures = 0
	s.quality.LastSuccess = s.clock.Now()
}

// MarkManual records that the user asked to disconnect
func (s *Supervisor) MarkManual() {
	s.manual = true
}

// IsManual reports whether the last disconnect was manual
func (s *Supervisor) IsManual() bool {
	return s.manual
}

// Reset clears attempts and the manual flag for an explicit start.
// Quality survives.
func (s *Supervisor) Reset() {
	s.attempts = 0
	s.manual = false
}

// Attempts returns the number of automatic attempts claimed since the last reset
func (s *Supervisor) Attempts() int {
	return s.attempts
}

// Policy returns the supervisor's policy
func (s *Supervisor) Policy() Policy {
	return s.policy
}

// Quality returns a snapshot of the link statistics after decay
func (s *Supervisor) Quality() Quality {
	s.decay()
	return s.quality
}

// decay halves ErrorCount for every full DecayWindow since the last failure
// and forgets the streak once a window has passed.
func (s *Supervisor) decay() {
	if s.policy.DecayWindow <= 0 || s.quality.LastFailure.IsZero() {
		return
	}
	from := s.quality.LastFailure
	if s.decayed.After(from) {
		from = s.decayed
	}
	windows := int(s.clock.Now().Sub(from) / s.policy.DecayWindow)
	if windows <= 0 {
		return
	}
	s.quality.ConsecutiveFailures = 0
	if windows > 31 {
		windows = 31
	}
	s.quality.ErrorCount >>= uint(windows)
	s.decayed = from.Add(time.Duration(windows) * s.policy.DecayWindow)
}
