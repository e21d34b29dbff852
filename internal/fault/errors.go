package fault

import (
	"errors"
	"fmt"
)

// Category is the classifier's verdict bucket for a failure.
type Category int

const (
	// CategoryGeneric covers anything the classifier could not place.
	CategoryGeneric Category = iota
	// CategoryTimeout means the controller did not answer in time.
	CategoryTimeout
	// CategoryPermissionDenied means the radio is unavailable or not permitted.
	CategoryPermissionDenied
	// CategoryDeviceNotFound means the scan ended without a matching controller.
	CategoryDeviceNotFound
	// CategoryConnectionLost means the link dropped or a GATT operation failed.
	CategoryConnectionLost
	// CategoryProtocolRejection means the controller rejected the session
	// (bad key, refusal, or data we do not understand).
	CategoryProtocolRejection
)

// String returns a human-readable name for the category
func (c Category) String() string {
	switch c {
	case CategoryGeneric:
		return "Generic"
	case CategoryTimeout:
		return "Timeout"
	case CategoryPermissionDenied:
		return "PermissionDenied"
	case CategoryDeviceNotFound:
		return "DeviceNotFound"
	case CategoryConnectionLost:
		return "ConnectionLost"
	case CategoryProtocolRejection:
		return "ProtocolRejection"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Reason narrows a ProtocolRejection down to what the controller did.
type Reason int

const (
	// ReasonUnknownData is an unexpected leading byte, type byte or status byte.
	ReasonUnknownData Reason = iota
	// ReasonBadKey is an AF reply carrying a key/nonce failure status.
	ReasonBadKey
	// ReasonRefused is a C8 frame.
	ReasonRefused
)

// String returns a human-readable name for the reason
func (r Reason) String() string {
	switch r {
	case ReasonUnknownData:
		return "unknown data"
	case ReasonBadKey:
		return "bad key"
	case ReasonRefused:
		return "refused"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// ProtocolError is raised while handling an inbound frame.
type ProtocolError struct {
	Reason Reason
	Type   byte   // packet type byte, zero when the frame never decoded
	Frame  []byte // offending frame as received
	Detail string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := "protocol " + e.Reason.String()
	if e.Type != 0 {
		msg += fmt.Sprintf(" (type 0x%02X)", e.Type)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NewUnknownData creates an UnknownData protocol error
func NewUnknownData(frame []byte, typ byte, detail string) *ProtocolError {
	return &ProtocolError{Reason: ReasonUnknownData, Type: typ, Frame: clone(frame), Detail: detail}
}

// NewBadKey creates a BadKey protocol error for an AF status byte
func NewBadKey(frame []byte, status byte) *ProtocolError {
	return &ProtocolError{
		Reason: ReasonBadKey,
		Type:   0xAF,
		Frame:  clone(frame),
		Detail: fmt.Sprintf("key authentication status 0x%02X", status),
	}
}

// NewRefused creates a Refused protocol error
func NewRefused(frame []byte) *ProtocolError {
	return &ProtocolError{Reason: ReasonRefused, Type: 0xC8, Frame: clone(frame), Detail: "controller refused to start"}
}

// LinkKind says which part of the radio link failed.
type LinkKind int

const (
	LinkScan LinkKind = iota
	LinkConnect
	LinkSubscribe
	LinkWrite
	LinkDisconnected
	LinkAdapter
)

// String returns a human-readable name for the link kind
func (k LinkKind) String() string {
	switch k {
	case LinkScan:
		return "scan"
	case LinkConnect:
		return "connect"
	case LinkSubscribe:
		return "subscribe"
	case LinkWrite:
		return "write"
	case LinkDisconnected:
		return "disconnected"
	case LinkAdapter:
		return "adapter"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// LinkError wraps a transport failure with the operation it happened in.
type LinkError struct {
	Kind LinkKind
	Err  error
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e.Err == nil {
		return "link " + e.Kind.String()
	}
	return fmt.Sprintf("link %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying transport error
func (e *LinkError) Unwrap() error {
	return e.Err
}

// NewLinkError wraps err as a failure of the given link operation
func NewLinkError(kind LinkKind, err error) *LinkError {
	return &LinkError{Kind: kind, Err: err}
}

// Sentinel failures raised by the session itself.
var (
	// ErrDeviceNotFound is raised when a scan completes without a match.
	ErrDeviceNotFound = errors.New("no matching controller found")
	// ErrHandshakeTimeout is raised when the handshake does not reach B2 in time.
	ErrHandshakeTimeout = errors.New("operation timed out waiting for handshake")
	// ErrOperationTimeout is raised when B3 does not arrive after end-prologue.
	ErrOperationTimeout = errors.New("operation timed out waiting for session end")
	// ErrPermissionDenied is raised when the radio refuses access.
	ErrPermissionDenied = errors.New("bluetooth permission denied")
	// ErrAdapterUnavailable is raised when there is no usable radio.
	ErrAdapterUnavailable = errors.New("bluetooth adapter not available")
)

// IsProtocolError reports whether err carries a ProtocolError with the given reason
func IsProtocolError(err error, reason Reason) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason == reason
	}
	return false
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
