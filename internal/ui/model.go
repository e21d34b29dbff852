package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/session"
)

// Controller is the part of a session the screen drives
type Controller interface {
	Toggle()
	Disconnect()
}

// ScreenConfig configures the session screen
type ScreenConfig struct {
	Command   string  // e.g., "waterctl start"
	Params    []Param // Header parameters
	Countdown time.Duration
	LowTime   time.Duration
	// DiagnosticLines caps the transcript shown under an error
	DiagnosticLines int
}

type sessionKeyMap struct {
	Toggle     key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

func (k sessionKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Disconnect, k.Quit}
}

func (k sessionKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Toggle, k.Disconnect, k.Quit}}
}

type tickMsg struct {
	id int
}

// Model is the interactive session screen
type Model struct {
	ctrl   Controller
	events *Events

	header    *Header
	progress  *Progress
	countdown *Countdown
	spinner   spinner.Model
	help      help.Model
	keys      sessionKeyMap

	state       session.State
	verdict     *fault.Verdict
	diagnostics []string
	maxDiag     int
	note        string

	tickID      int
	confirmQuit bool
	quitting    bool
	width       int
}

// NewModel creates the session screen
func NewModel(ctrl Controller, events *Events, config ScreenConfig) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StepRunningStyle

	width := GetTerminalWidth()
	header := NewHeader("Water Controller", config.Command, config.Params...)
	header.SetWidth(width)
	countdown := NewCountdown(config.Countdown, config.LowTime)
	countdown.SetWidth(width)

	maxDiag := config.DiagnosticLines
	if maxDiag <= 0 {
		maxDiag = 12
	}

	return Model{
		ctrl:      ctrl,
		events:    events,
		header:    header,
		progress:  NewProgress("").SetWidth(width),
		countdown: countdown,
		spinner:   s,
		help:      help.New(),
		keys: sessionKeyMap{
			Toggle: key.NewBinding(
				key.WithKeys(" ", "enter"),
				key.WithHelp("space", "start/stop"),
			),
			Disconnect: key.NewBinding(
				key.WithKeys("d"),
				key.WithHelp("d", "disconnect"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
		state:   session.Standby,
		maxDiag: maxDiag,
		width:   width,
	}
}

// Init starts the spinner and the event pump
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.events.Wait())
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.header.SetWidth(m.width)
		m.progress.SetWidth(m.width)
		m.countdown.SetWidth(m.width)
		m.help.Width = m.width
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case StageMsg:
		m.state = msg.State
		m.progress.Observe(msg.State)
		if msg.State == session.Standby {
			m.countdown.Stop()
			m.tickID++
		}
		return m, m.events.Wait()

	case ReadyMsg:
		m.verdict = nil
		m.diagnostics = nil
		m.note = ""
		m.countdown.Start()
		m.tickID++
		return m, tea.Batch(m.events.Wait(), m.tick())

	case EndedMsg:
		m.note = "Session ended."
		return m, m.events.Wait()

	case ErrorMsg:
		v := msg.Verdict
		m.verdict = &v
		m.diagnostics = nil
		if v.ShowDiagnostics {
			m.diagnostics = msg.Diagnostics
		}
		m.note = ""
		return m, m.events.Wait()

	case tickMsg:
		if msg.id != m.tickID || !m.countdown.Running() {
			return m, nil
		}
		if m.countdown.Tick() {
			m.note = "Time is up."
			logging.Info("Usage countdown finished")
			return m, nil
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if msg.String() == "ctrl+c" || m.state != session.Ready || m.confirmQuit {
			m.quitting = true
			m.events.Close()
			return m, tea.Quit
		}
		m.confirmQuit = true
		m.note = "Water is still running. Press q again to quit anyway, or space to stop it."
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		m.confirmQuit = false
		if m.state == session.Standby {
			m.verdict = nil
			m.diagnostics = nil
			m.note = ""
		}
		logging.Debug("Toggle pressed", zap.Stringer("state", m.state))
		m.ctrl.Toggle()
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		m.confirmQuit = false
		m.ctrl.Disconnect()
		return m, nil
	}
	return m, nil
}

func (m Model) tick() tea.Cmd {
	id := m.tickID
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{id: id}
	})
}

// State returns the last stage the screen saw
func (m Model) State() session.State {
	return m.state
}

// View renders the screen
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header.Render())
	b.WriteString("\n\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")
	b.WriteString(m.progress.Render())
	b.WriteString("\n")

	if m.countdown.Running() {
		b.WriteString("\n")
		b.WriteString(m.countdown.Render())
		b.WriteString("\n")
	}

	if m.verdict != nil {
		b.WriteString("\n")
		b.WriteString(NewVerdictResult(*m.verdict).SetWidth(m.width).Render())
		b.WriteString("\n")
		if box := NewDiagnosticsBox(m.diagnostics).SetWidth(m.width).SetMaxLines(m.maxDiag).Render(); box != "" {
			b.WriteString(box)
			b.WriteString("\n")
		}
	}

	if m.note != "" {
		b.WriteString("\n")
		b.WriteString(ProgressLabelStyle.Render(m.note))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusLine() string {
	switch m.state {
	case session.Standby:
		return ProgressLabelStyle.Render(StepPendingStyle.Render("Standby") + "  press space to start")
	case session.Ready:
		return ProgressLabelStyle.Render(StepCompleteStyle.Render(SuccessMarker + " " + StageLabel(m.state)))
	case session.Error:
		return ProgressLabelStyle.Render(ErrorTitleStyle.Render(FailureMarker + " " + StageLabel(m.state)))
	default:
		return ProgressLabelStyle.Render(m.spinner.View() + " " + StageLabel(m.state) + "...")
	}
}

// StageLabel names a session stage for people
func StageLabel(s session.State) string {
	switch s {
	case session.Standby:
		return "Standby"
	case session.Scanning:
		return "Scanning for controller"
	case session.Connecting:
		return "Connecting"
	case session.Connected:
		return "Connected"
	case session.AwaitingHandshake:
		return "Waiting for controller"
	case session.Ready:
		return "Water running"
	case session.Ending:
		return "Stopping"
	case session.Error:
		return "Error"
	default:
		return s.String()
	}
}
