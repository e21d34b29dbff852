package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/session"
)

// StageMsg reports a session stage change
type StageMsg struct {
	State session.State
}

// ReadyMsg reports that the water is running
type ReadyMsg struct{}

// EndedMsg reports that the controller confirmed the end
type EndedMsg struct{}

// ErrorMsg reports a classified session failure
type ErrorMsg struct {
	Verdict     fault.Verdict
	Diagnostics []string
}

// Events turns session callbacks into Bubble Tea messages. The session
// goroutine pushes into a buffer the screen drains with Wait, so callbacks
// keep their order and never wait on rendering.
type Events struct {
	ch   chan tea.Msg
	done chan struct{}
}

// NewEvents creates an event bridge
func NewEvents() *Events {
	return &Events{
		ch:   make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
}

func (e *Events) push(msg tea.Msg) {
	select {
	case e.ch <- msg:
	case <-e.done:
	}
}

// StageChanged implements session.Observer
func (e *Events) StageChanged(s session.State) {
	e.push(StageMsg{State: s})
}

// SessionReady implements session.Observer
func (e *Events) SessionReady() {
	e.push(ReadyMsg{})
}

// SessionEnded implements session.Observer
func (e *Events) SessionEnded() {
	e.push(EndedMsg{})
}

// FatalError implements session.Observer
func (e *Events) FatalError(v fault.Verdict, diagnostics []string) {
	e.push(ErrorMsg{Verdict: v, Diagnostics: diagnostics})
}

// Wait returns a command that delivers the next session event
func (e *Events) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-e.ch:
			return msg
		case <-e.done:
			return nil
		}
	}
}

// Close releases any session callback still waiting for the screen
func (e *Events) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}
