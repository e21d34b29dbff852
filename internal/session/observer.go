package session

import (
	"github.com/waterctl/waterctl/internal/fault"
)

// Observer receives session events. Methods are called from the session's
// goroutine and must not block.
type Observer interface {
	StageChanged(State)
	SessionReady()
	SessionEnded()
	// FatalError reports every failure verdict. diagnostics holds the
	// session transcript when the verdict asks for it.
	FatalError(v fault.Verdict, diagnostics []string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStage func(State)
	OnReady func()
	OnEnded func()
	OnError func(fault.Verdict, []string)
}

func (o ObserverFuncs) StageChanged(s State) {
	if o.OnStage != nil {
		o.OnStage(s)
	}
}

func (o ObserverFuncs) SessionReady() {
	if o.OnReady != nil {
		o.OnReady()
	}
}

func (o ObserverFuncs) SessionEnded() {
	if o.OnEnded != nil {
		o.OnEnded()
	}
}

func (o ObserverFuncs) FatalError(v fault.Verdict, diagnostics []string) {
	if o.OnError != nil {
		o.OnError(v, diagnostics)
	}
}
