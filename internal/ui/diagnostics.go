package ui

import (
	"fmt"
	"strings"
)

// DiagnosticsBox displays the session transcript attached to a verdict.
type DiagnosticsBox struct {
	Title    string   // e.g., "Diagnostics"
	Lines    []string // Transcript lines, oldest first
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewDiagnosticsBox creates a transcript box over the given lines
func NewDiagnosticsBox(lines []string) *DiagnosticsBox {
	return &DiagnosticsBox{
		Title: "Diagnostics",
		Lines: lines,
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (d *DiagnosticsBox) SetWidth(width int) *DiagnosticsBox {
	d.Width = width
	return d
}

// SetMaxLines keeps only the newest max lines
func (d *DiagnosticsBox) SetMaxLines(max int) *DiagnosticsBox {
	d.MaxLines = max
	return d
}

// FilterLines keeps only lines containing one of the given patterns,
// e.g. "RXD:" and "TXD:" for the frame exchange.
func (d *DiagnosticsBox) FilterLines(patterns ...string) *DiagnosticsBox {
	var filtered []string
	for _, line := range d.Lines {
		for _, pattern := range patterns {
			if strings.Contains(line, pattern) {
				filtered = append(filtered, line)
				break
			}
		}
	}
	d.Lines = filtered
	return d
}

// Render returns the styled box, or "" when there is nothing to show
func (d *DiagnosticsBox) Render() string {
	if len(d.Lines) == 0 {
		return ""
	}

	lines := d.Lines
	title := d.Title
	if d.MaxLines > 0 && len(lines) > d.MaxLines {
		title = fmt.Sprintf("%s (last %d of %d lines)", d.Title, d.MaxLines, len(lines))
		lines = lines[len(lines)-d.MaxLines:]
	}

	width := d.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	content := DiagnosticsTitleStyle.Render(title) + "\n" +
		DiagnosticsContentStyle.Render(strings.Join(lines, "\n"))
	return DiagnosticsBoxStyle(width).Render(content)
}

// String implements fmt.Stringer
func (d *DiagnosticsBox) String() string {
	return d.Render()
}
