package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/waterctl/waterctl/internal/session"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
	StepSkipped                    // Skipped
)

// Step represents a single stage of the session
type Step struct {
	Number  int        // Step number (1-based)
	Name    string     // Step description
	Status  StepStatus // Current status
	Message string     // Optional status message (e.g., "attempt 2", "-62 dBm")
}

// sessionStages are the stages a session walks through before the water
// runs. Connected and AwaitingHandshake share the handshake step.
var sessionStages = []struct {
	name   string
	states []session.State
}{
	{"Scanning for controller", []session.State{session.Scanning}},
	{"Connecting", []session.State{session.Connecting}},
	{"Handshake", []session.State{session.Connected, session.AwaitingHandshake}},
	{"Water running", []session.State{session.Ready}},
	{"Ending", []session.State{session.Ending}},
}

// Progress is the step list for one session attempt
type Progress struct {
	Label string // e.g., "Starting session..."
	Steps []Step
	Width int

	current int // 1-based index of the running step, 0 when idle
}

// NewProgress creates a progress list over the session stages
func NewProgress(label string) *Progress {
	steps := make([]Step, len(sessionStages))
	for i, st := range sessionStages {
		steps[i] = Step{Number: i + 1, Name: st.name, Status: StepPending}
	}
	return &Progress{
		Label: label,
		Steps: steps,
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	return p
}

// Reset returns every step to pending
func (p *Progress) Reset() {
	for i := range p.Steps {
		p.Steps[i].Status = StepPending
		p.Steps[i].Message = ""
	}
	p.current = 0
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	idx := stepNumber - 1
	p.Steps[idx].Status = status
	p.Steps[idx].Message = message
	if status == StepRunning {
		p.current = stepNumber
	}
}

// Observe moves the list to the given session stage. Steps before the
// stage complete, the stage itself runs. Error fails the running step;
// Standby leaves the list as it is so the last attempt stays visible.
func (p *Progress) Observe(state session.State) {
	switch state {
	case session.Standby:
		return
	case session.Error:
		if p.current > 0 {
			p.UpdateStep(p.current, StepFailed, "")
		}
		return
	}

	stage := stageIndex(state)
	if stage == 0 {
		return
	}
	if stage < p.current {
		// A retry went back to scanning.
		p.Reset()
	}
	for i := 1; i < stage; i++ {
		if p.Steps[i-1].Status != StepComplete {
			p.UpdateStep(i, StepComplete, "")
		}
	}
	if p.Steps[stage-1].Status != StepRunning {
		p.UpdateStep(stage, StepRunning, "")
	}
}

// Current returns the running step, or nil when idle
func (p *Progress) Current() *Step {
	if p.current == 0 {
		return nil
	}
	return &p.Steps[p.current-1]
}

func stageIndex(state session.State) int {
	for i, st := range sessionStages {
		for _, s := range st.states {
			if s == state {
				return i + 1
			}
		}
	}
	return 0
}

// Render returns the styled step list as a string
func (p *Progress) Render() string {
	var b strings.Builder
	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}
	lines := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		lines = append(lines, p.renderStepLine(step))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// renderStepLine renders a single step line
func (p *Progress) renderStepLine(step Step) string {
	prefix := fmt.Sprintf("  [%d/%d]", step.Number, len(p.Steps))

	var marker string
	var style lipgloss.Style
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(style.Render(step.Name))

	// Keep markers in one column
	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
