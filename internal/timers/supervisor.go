// Package timers provides named, idempotent, cancellable delayed actions.
//
// A Supervisor never runs an action on the clock's goroutine. When a timer
// fires, the clock callback hands an Expiry to the dispatch function, which
// the owner uses to route it back onto its own goroutine; the owner then
// calls Expire. An Expiry whose id no longer matches the live handle for its
// name is stale and does nothing, so cancel-then-reschedule can never let an
// old callback run.
package timers

import (
	"sort"
	"time"
)

// Expiry identifies one firing of one scheduled timer
type Expiry struct {
	Name string
	ID   uint64
}

type handle struct {
	id     uint64
	timer  Timer
	action func()
}

// Supervisor tracks at most one live timer per name.
// It is not safe for concurrent use; all calls come from the owner's goroutine.
type Supervisor struct {
	clock    Clock
	dispatch func(Expiry)
	live     map[string]*handle
	nextID   uint64
}

// NewSupervisor creates a supervisor. dispatch is called from the clock's
// goroutine and must hand the Expiry to the owner without blocking for long.
func NewSupervisor(clock Clock, dispatch func(Expiry)) *Supervisor {
	return &Supervisor{
		clock:    clock,
		dispatch: dispatch,
		live:     make(map[string]*handle),
	}
}

// Schedule arms name to run action after d. If name is already live this is
// a no-op and returns false.
func (s *Supervisor) Schedule(name string, d time.Duration, action func()) bool {
	if _, ok := s.live[name]; ok {
		return false
	}
	s.nextID++
	e := Expiry{Name: name, ID: s.nextID}
	h := &handle{id: e.ID, action: action}
	s.live[name] = h
	h.timer = s.clock.AfterFunc(d, func() { s.dispatch(e) })
	return true
}

// Reschedule cancels any live timer for name and arms a new one
func (s *Supervisor) Reschedule(name string, d time.Duration, action func()) {
	s.Cancel(name)
	s.Schedule(name, d, action)
}

// Cancel stops name. It returns false if nothing was live.
func (s *Supervisor) Cancel(name string) bool {
	h, ok := s.live[name]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(s.live, name)
	return true
}

// CancelAll stops every live timer
func (s *Supervisor) CancelAll() {
	for name, h := range s.live {
		h.timer.Stop()
		delete(s.live, name)
	}
}

// Expire runs the action for e if e is still the live firing of its name.
// It reports whether the action ran.
func (s *Supervisor) Expire(e Expiry) bool {
	h, ok := s.live[e.Name]
	if !ok || h.id != e.ID {
		return false
	}
	delete(s.live, e.Name)
	h.action()
	return true
}

// Active reports whether name has a live timer
func (s *Supervisor) Active(name string) bool {
	_, ok := s.live[name]
	return ok
}

// Names returns the live timer names, sorted
func (s *Supervisor) Names() []string {
	names := make([]string, 0, len(s.live))
	for name := range s.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
