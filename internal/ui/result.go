package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/waterctl/waterctl/internal/fault"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result represents a result box (success, failure, or warning)
type Result struct {
	Type            ResultType // Success, failure, or warning
	Title           string     // e.g., "Session ended"
	Details         []Param    // Key-value details to display
	Error           error      // Error (for failure results)
	Troubleshooting []string   // Troubleshooting lines (for failure results)
	Width           int        // Terminal width
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Param) *Result {
	return &Result{
		Type:    ResultSuccess,
		Title:   title,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	return &Result{
		Type:            ResultFailure,
		Title:           title,
		Error:           err,
		Troubleshooting: troubleshooting,
		Width:           GetTerminalWidth(),
	}
}

// NewVerdictResult creates a failure box for a classified session error.
// Non-fatal verdicts render as warnings since the session retries them.
func NewVerdictResult(v fault.Verdict) *Result {
	r := NewFailureResult(fault.GetShortErrorMessage(v), v.Err, hintLines(fault.GetTroubleshootingHint(v)))
	if !v.Fatal {
		r.Type = ResultWarning
		r.Details = []Param{{Key: "Category", Value: v.Category.String()}}
	}
	return r
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details ...Param) *Result {
	return &Result{
		Type:    ResultWarning,
		Title:   title,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail appends a detail key-value pair
func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Param{Key: key, Value: value})
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	switch r.Type {
	case ResultFailure:
		return r.renderFailure(width)
	case ResultWarning:
		return r.renderWarning(width)
	default:
		return r.renderSuccess(width)
	}
}

func (r *Result) renderSuccess(width int) string {
	lines := []string{
		"",
		SuccessTitleStyle.Render(fmt.Sprintf("   %s  SUCCESS  ─  %s", SuccessMarker, r.Title)),
		"",
	}
	lines = append(lines, r.detailLines()...)
	lines = append(lines, "")
	return SuccessBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func (r *Result) renderFailure(width int) string {
	lines := []string{
		"",
		ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, r.Title)),
		"",
	}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}
	if len(r.Troubleshooting) > 0 {
		lines = append(lines, r.renderTroubleshootingBox(width), "")
	}
	return ErrorBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func (r *Result) renderWarning(width int) string {
	title := lipgloss.NewStyle().
		Foreground(WarningColor).
		Bold(true).
		Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, r.Title))

	lines := []string{"", title, ""}
	lines = append(lines, r.detailLines()...)
	if r.Error != nil {
		lines = append(lines, "", TroubleshootingItemStyle.Render("   "+r.Error.Error()))
	}
	if len(r.Troubleshooting) > 0 {
		lines = append(lines, "", r.renderTroubleshootingBox(width))
	}
	lines = append(lines, "")
	return WarningBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func (r *Result) detailLines() []string {
	lines := make([]string, 0, len(r.Details))
	for _, d := range r.Details {
		keyStyled := ResultKeyStyle.Render(fmt.Sprintf("   %s:", d.Key))
		valueStyled := ResultValueStyle.Render(d.Value)
		lines = append(lines, keyStyled+" "+valueStyled)
	}
	return lines
}

// renderTroubleshootingBox renders the inner troubleshooting box
func (r *Result) renderTroubleshootingBox(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render(tip))
	}
	return TroubleshootingBoxStyle(width).Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}

// hintLines splits a classifier hint into box lines, dropping its own
// "Troubleshooting:" heading since the box draws one.
func hintLines(hint string) []string {
	var lines []string
	for _, line := range strings.Split(hint, "\n") {
		if strings.TrimSpace(line) == "" || line == "Troubleshooting:" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
