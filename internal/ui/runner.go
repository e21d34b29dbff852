package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/session"
)

// OutcomeKind says how a plain run moved on
type OutcomeKind int

const (
	// OutcomeReady means the water is running.
	OutcomeReady OutcomeKind = iota
	// OutcomeEnded means the controller confirmed the end.
	OutcomeEnded
	// OutcomeFailed means the session gave up and settled in Standby.
	OutcomeFailed
	// OutcomeStopped means the session returned to Standby on request.
	OutcomeStopped
)

// Outcome is a milestone of a plain run
type Outcome struct {
	Kind    OutcomeKind
	Verdict fault.Verdict // set for OutcomeFailed
}

// RunnerConfig holds configuration for a plain (non-interactive) run
type RunnerConfig struct {
	Command string    // e.g., "waterctl start --plain"
	Params  []Param   // Header parameters
	Verbose bool      // Print the transcript under every error
	Output  io.Writer // Output writer (default: os.Stdout)
}

// Runner prints a session as it goes, header then stage lines then
// results, for terminals that cannot host the interactive screen. It is a
// session.Observer; milestones arrive on Outcomes.
type Runner struct {
	config   RunnerConfig
	output   io.Writer
	width    int
	progress *Progress
	outcomes chan Outcome

	mu          sync.Mutex
	lastVerdict *fault.Verdict
	readyAt     time.Time
	state       session.State
}

// NewRunner creates a plain runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()
	return &Runner{
		config:   config,
		output:   config.Output,
		width:    width,
		progress: NewProgress("").SetWidth(width),
		outcomes: make(chan Outcome, 16),
	}
}

// SetWidth overrides the detected terminal width
func (r *Runner) SetWidth(width int) *Runner {
	r.width = width
	r.progress.SetWidth(width)
	return r
}

// Outcomes delivers run milestones in order
func (r *Runner) Outcomes() <-chan Outcome {
	return r.outcomes
}

// PrintHeader prints the command banner
func (r *Runner) PrintHeader() {
	header := NewHeader("Water Controller", r.config.Command, r.config.Params...)
	header.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, header.Render())
	_, _ = fmt.Fprintln(r.output)
}

// StageChanged implements session.Observer
func (r *Runner) StageChanged(s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state
	r.state = s
	before := r.progress.Current()
	var beforeNumber int
	if before != nil {
		beforeNumber = before.Number
	}

	r.progress.Observe(s)

	// Print the step that just finished, then the one now running.
	if before != nil && beforeNumber > 0 {
		step := r.progress.Steps[beforeNumber-1]
		if step.Status == StepComplete || step.Status == StepFailed {
			_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(step))
		}
	}
	if cur := r.progress.Current(); cur != nil && cur.Status == StepRunning && cur.Number != beforeNumber {
		_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(*cur))
	}

	if s != session.Standby {
		return
	}
	switch {
	case prev == session.Error && r.lastVerdict != nil:
		r.emit(Outcome{Kind: OutcomeFailed, Verdict: *r.lastVerdict})
	case prev != session.Ending:
		r.emit(Outcome{Kind: OutcomeStopped})
	}
}

// SessionReady implements session.Observer
func (r *Runner) SessionReady() {
	r.mu.Lock()
	r.lastVerdict = nil
	r.readyAt = time.Now()
	r.mu.Unlock()

	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, ProgressLabelStyle.Render(StepCompleteStyle.Render(SuccessMarker+" Water running")))
	r.emit(Outcome{Kind: OutcomeReady})
}

// SessionEnded implements session.Observer
func (r *Runner) SessionEnded() {
	r.mu.Lock()
	readyAt := r.readyAt
	r.mu.Unlock()

	result := NewSuccessResult("Session ended")
	if !readyAt.IsZero() {
		result.AddDetail("Duration", time.Since(readyAt).Round(time.Second).String())
	}
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, result.Render())
	r.emit(Outcome{Kind: OutcomeEnded})
}

// FatalError implements session.Observer
func (r *Runner) FatalError(v fault.Verdict, diagnostics []string) {
	r.mu.Lock()
	r.lastVerdict = &v
	r.mu.Unlock()

	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, NewVerdictResult(v).SetWidth(r.width).Render())

	if len(diagnostics) > 0 && (v.Fatal || r.config.Verbose) {
		box := NewDiagnosticsBox(diagnostics).SetWidth(r.width)
		if !r.config.Verbose {
			box.SetMaxLines(20)
		}
		_, _ = fmt.Fprintln(r.output, box.Render())
	}
}

// emit never blocks the session; a reader that fell this far behind has
// stopped listening.
func (r *Runner) emit(o Outcome) {
	select {
	case r.outcomes <- o:
	default:
	}
}

// PrintPleaseWait prints a styled "please wait" line for long-running operations
func (r *Runner) PrintPleaseWait(message, durationHint string) {
	line := ProgressLabelStyle.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + StepNoteStyle.Render("("+durationHint+")")
	}
	_, _ = fmt.Fprintln(r.output, line+"...")
}
