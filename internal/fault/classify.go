package fault

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
)

// Verdict is the classifier's answer for a failure. The session acts on
// Retryable; presentation uses Fatal and ShowDiagnostics.
type Verdict struct {
	Category        Category
	Message         string
	Fatal           bool
	ShowDiagnostics bool
	Retryable       bool
	Err             error
}

// traits holds the fixed attributes of each category
type traits struct {
	fatal       bool
	diagnostics bool
	retryable   bool
}

var categoryTraits = map[Category]traits{
	CategoryTimeout:           {fatal: false, diagnostics: true, retryable: true},
	CategoryPermissionDenied:  {fatal: true, diagnostics: false, retryable: false},
	CategoryDeviceNotFound:    {fatal: false, diagnostics: false, retryable: true},
	CategoryConnectionLost:    {fatal: false, diagnostics: false, retryable: true},
	CategoryProtocolRejection: {fatal: true, diagnostics: true, retryable: false},
	CategoryGeneric:           {fatal: true, diagnostics: true, retryable: false},
}

// Message patterns for errors that arrive untyped from platform radio stacks.
var (
	permissionPattern = regexp.MustCompile(`(?i)permission|not permitted|user denied|adapter not available|not supported|NotFoundError`)
	linkPattern       = regexp.MustCompile(`(?i)NetworkError|GATT operation failed|not connected|connection (?:reset|closed|lost)|disconnected|broken pipe`)
	timeoutPattern    = regexp.MustCompile(`(?i)timed out|timeout`)
)

// Classify maps a failure to its verdict. Typed errors win over message
// matching; anything unrecognised is Generic.
func Classify(err error) Verdict {
	if err == nil {
		return Verdict{}
	}
	category := categorize(err)
	t := categoryTraits[category]
	return Verdict{
		Category:        category,
		Message:         err.Error(),
		Fatal:           t.fatal,
		ShowDiagnostics: t.diagnostics,
		Retryable:       t.retryable,
		Err:             err,
	}
}

func categorize(err error) Category {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return CategoryProtocolRejection
	}

	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return CategoryDeviceNotFound
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrAdapterUnavailable):
		return CategoryPermissionDenied
	case errors.Is(err, ErrHandshakeTimeout), errors.Is(err, ErrOperationTimeout):
		return CategoryTimeout
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		return CategoryTimeout
	}

	var le *LinkError
	if errors.As(err, &le) {
		if le.Kind == LinkAdapter {
			return CategoryPermissionDenied
		}
		if le.Err != nil && permissionPattern.MatchString(le.Err.Error()) {
			return CategoryPermissionDenied
		}
		return CategoryConnectionLost
	}

	msg := err.Error()
	switch {
	case permissionPattern.MatchString(msg):
		return CategoryPermissionDenied
	case linkPattern.MatchString(msg):
		return CategoryConnectionLost
	case timeoutPattern.MatchString(msg):
		return CategoryTimeout
	}
	return CategoryGeneric
}

// GetTroubleshootingHint returns user-facing advice for a verdict
func GetTroubleshootingHint(v Verdict) string {
	switch v.Category {
	case CategoryTimeout:
		return strings.Join([]string{
			"The controller took too long to answer.",
			"Troubleshooting:",
			"  • Move closer to the controller",
			"  • If this keeps happening, capture the diagnostics and report it",
		}, "\n")

	case CategoryPermissionDenied:
		return strings.Join([]string{
			"Bluetooth is unavailable or access was not granted.",
			"Troubleshooting:",
			"  • Check that the adapter is powered on",
			"  • Grant the nearby-devices / bluetooth permission",
			"  • On Linux, make sure BlueZ is running and you may talk to it over D-Bus",
		}, "\n")

	case CategoryDeviceNotFound:
		return strings.Join([]string{
			"No controller with the configured name or address answered the scan.",
			"Troubleshooting:",
			"  • Check the device name and address in the configuration",
			"  • Make sure no other phone is connected to the controller",
		}, "\n")

	case CategoryConnectionLost:
		return strings.Join([]string{
			"The connection is unstable and the link dropped.",
			"Troubleshooting:",
			"  • Try again",
			"  • Move closer to the controller",
		}, "\n")

	case CategoryProtocolRejection:
		hint := []string{"The controller refused to start."}
		var pe *ProtocolError
		if errors.As(v.Err, &pe) && pe.Reason == ReasonUnknownData {
			hint = []string{"The controller sent data this tool does not understand."}
		}
		return strings.Join(append(hint,
			"Do NOT retry repeatedly: several failures in a row can lock the controller,",
			"after which it refuses every connection for about an hour while powered.",
			"Please report this together with the diagnostics.",
		), "\n")

	default:
		return "An unexpected error occurred. Please report it together with the diagnostics."
	}
}

// GetShortErrorMessage returns a concise, user-friendly message for a verdict
func GetShortErrorMessage(v Verdict) string {
	switch v.Category {
	case CategoryTimeout:
		return "Controller not responding (timeout)"
	case CategoryPermissionDenied:
		return "Bluetooth not available or permission denied"
	case CategoryDeviceNotFound:
		return "Controller not found"
	case CategoryConnectionLost:
		return "Connection lost"
	case CategoryProtocolRejection:
		var pe *ProtocolError
		if errors.As(v.Err, &pe) {
			switch pe.Reason {
			case ReasonBadKey:
				return "Controller rejected the key"
			case ReasonRefused:
				return "Controller refused to start"
			}
		}
		return "Unknown data from controller"
	default:
		return v.Message
	}
}
