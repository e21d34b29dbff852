package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// State is the session lifecycle stage
type State int32

const (
	Standby State = iota
	Scanning
	Connecting
	Connected
	AwaitingHandshake
	Ready
	Ending
	Error
)

var stateNames = map[State]string{
	Standby:           "standby",
	Scanning:          "scanning",
	Connecting:        "connecting",
	Connected:         "connected",
	AwaitingHandshake: "awaiting_handshake",
	Ready:             "ready",
	Ending:            "ending",
	Error:             "error",
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Linked reports whether the radio link is up in this state
func (s State) Linked() bool {
	switch s {
	case Connected, AwaitingHandshake, Ready, Ending:
		return true
	}
	return false
}

func parseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return Error
}

// Lifecycle events
const (
	eventStart    = "start"
	eventFound    = "found"
	eventLinked   = "linked"
	eventPrologue = "prologue_sent"
	eventUnlocked = "unlocked"
	eventEnd      = "end"
	eventEnded    = "ended"
	eventFail     = "fail"
	eventRetry    = "retry"
	eventSettle   = "settle"
	eventAbort    = "abort"
)

func names(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

// newMachine returns the transition table. Anything not listed here is a
// bug in the session, not a protocol condition.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		Standby.String(),
		fsm.Events{
			{Name: eventStart, Src: names(Standby), Dst: Scanning.String()},
			{Name: eventFound, Src: names(Scanning), Dst: Connecting.String()},
			{Name: eventLinked, Src: names(Connecting), Dst: Connected.String()},
			{Name: eventPrologue, Src: names(Connected), Dst: AwaitingHandshake.String()},
			{Name: eventUnlocked, Src: names(AwaitingHandshake), Dst: Ready.String()},
			{Name: eventEnd, Src: names(Ready), Dst: Ending.String()},
			{Name: eventEnded, Src: names(Ending), Dst: Standby.String()},
			{Name: eventFail, Src: names(Scanning, Connecting, Connected, AwaitingHandshake, Ready, Ending), Dst: Error.String()},
			{Name: eventRetry, Src: names(Error), Dst: Scanning.String()},
			{Name: eventSettle, Src: names(Error), Dst: Standby.String()},
			{Name: eventAbort, Src: names(Scanning, Connecting, Connected, AwaitingHandshake, Ready, Ending, Error), Dst: Standby.String()},
		},
		fsm.Callbacks{},
	)
}

// fire runs event on m and returns the new state
func fire(m *fsm.FSM, event string) (State, error) {
	err := m.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return parseState(m.Current()), fmt.Errorf("transition %q from %s: %w", event, m.Current(), err)
	}
	return parseState(m.Current()), nil
}
