// Package reconnect decides whether and when a failed session retries.
//
// The Supervisor counts automatic attempts against a Policy and computes an
// exponential backoff delay. A manual disconnect disables retries until the
// next explicit start or the next successful session. Quality keeps
// advisory failure statistics that only lengthen the delay.
package reconnect

import (
	"fmt"
	"math"
	"time"
)

// Policy configures the backoff schedule
type Policy struct {
	// MaxAttempts is the number of automatic reconnects before giving up
	// Default: 5
	MaxAttempts int

	// BaseDelay is the delay before the first reconnect
	// Default: 400ms
	BaseDelay time.Duration

	// Multiplier grows the delay after every attempt
	// Default: 2
	Multiplier float64

	// Cap bounds every delay, including the quality penalty
	// Default: 60s
	Cap time.Duration

	// PenaltyFactor scales the delay once ConsecutiveFailures reaches
	// PenaltyThreshold
	// Default: 1.5 at 3 failures
	PenaltyFactor    float64
	PenaltyThreshold int

	// DecayWindow is how long without a failure before Quality statistics
	// are halved and the consecutive-failure streak is forgotten
	// Default: 5m
	DecayWindow time.Duration
}

// DefaultPolicy returns the controller's proven reconnect schedule
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      5,
		BaseDelay:        400 * time.Millisecond,
		Multiplier:       2,
		Cap:              60 * time.Second,
		PenaltyFactor:    1.5,
		PenaltyThreshold: 3,
		DecayWindow:      5 * time.Minute,
	}
}

// Validate checks the policy for values that would never retry or never stop
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.Cap < p.BaseDelay {
		return fmt.Errorf("cap %s is below base delay %s", p.Cap, p.BaseDelay)
	}
	return nil
}

// Delay returns the backoff for the given 1-based attempt, before any
// quality penalty
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	return p.capped(d)
}

func (p Policy) capped(d float64) time.Duration {
	if d >= float64(p.Cap) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.Cap
	}
	return time.Duration(d)
}
