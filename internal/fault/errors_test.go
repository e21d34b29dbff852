package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      Category
		retryable bool
		fatal     bool
	}{
		{"refused", NewRefused([]byte{0xFD, 0xFD, 0x09, 0xC8}), CategoryProtocolRejection, false, true},
		{"bad key", NewBadKey(nil, 0x01), CategoryProtocolRejection, false, true},
		{"unknown data", NewUnknownData(nil, 0x77, "unexpected type"), CategoryProtocolRejection, false, true},
		{"wrapped rejection", fmt.Errorf("dispatch: %w", NewRefused(nil)), CategoryProtocolRejection, false, true},
		{"not found", ErrDeviceNotFound, CategoryDeviceNotFound, true, false},
		{"handshake timeout", ErrHandshakeTimeout, CategoryTimeout, true, false},
		{"operation timeout", ErrOperationTimeout, CategoryTimeout, true, false},
		{"context deadline", fmt.Errorf("connect: %w", context.DeadlineExceeded), CategoryTimeout, true, false},
		{"permission", ErrPermissionDenied, CategoryPermissionDenied, false, true},
		{"adapter", NewLinkError(LinkAdapter, errors.New("enable failed")), CategoryPermissionDenied, false, true},
		{"link write", NewLinkError(LinkWrite, errors.New("GATT operation failed")), CategoryConnectionLost, true, false},
		{"link disconnected", NewLinkError(LinkDisconnected, nil), CategoryConnectionLost, true, false},
		{"untyped gatt", errors.New("NetworkError: GATT operation failed for unknown reason"), CategoryConnectionLost, true, false},
		{"untyped permission", errors.New("User denied the browser permission"), CategoryPermissionDenied, false, true},
		{"untyped timeout", errors.New("read timed out"), CategoryTimeout, true, false},
		{"generic", errors.New("something odd"), CategoryGeneric, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.err)
			if v.Category != tt.want {
				t.Errorf("Category = %v, want %v", v.Category, tt.want)
			}
			if v.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", v.Retryable, tt.retryable)
			}
			if v.Fatal != tt.fatal {
				t.Errorf("Fatal = %v, want %v", v.Fatal, tt.fatal)
			}
			if v.Err != tt.err {
				t.Error("Verdict should carry the original error")
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	v := Classify(nil)
	if v.Err != nil || v.Message != "" {
		t.Errorf("Classify(nil) = %+v, want zero verdict", v)
	}
}

func TestClassify_Diagnostics(t *testing.T) {
	if !Classify(NewRefused(nil)).ShowDiagnostics {
		t.Error("protocol rejections should show diagnostics")
	}
	if Classify(ErrPermissionDenied).ShowDiagnostics {
		t.Error("permission errors should not show diagnostics")
	}
	if Classify(NewLinkError(LinkConnect, errors.New("boom"))).ShowDiagnostics {
		t.Error("connection errors should not show diagnostics")
	}
}

func TestProtocolError_Error(t *testing.T) {
	err := NewBadKey([]byte{0xFD}, 0x04)
	msg := err.Error()
	if !strings.Contains(msg, "bad key") || !strings.Contains(msg, "0xAF") || !strings.Contains(msg, "0x04") {
		t.Errorf("Error() = %q, missing reason/type/status", msg)
	}

	if !IsProtocolError(fmt.Errorf("wrap: %w", err), ReasonBadKey) {
		t.Error("IsProtocolError should see through wrapping")
	}
	if IsProtocolError(err, ReasonRefused) {
		t.Error("IsProtocolError should match the reason")
	}
}

func TestProtocolError_CopiesFrame(t *testing.T) {
	frame := []byte{0xFD, 0xFD, 0x09, 0xC8}
	err := NewRefused(frame)
	frame[3] = 0x00
	if err.Frame[3] != 0xC8 {
		t.Error("ProtocolError should keep its own copy of the frame")
	}
}

func TestLinkError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewLinkError(LinkSubscribe, inner)
	if !errors.Is(err, inner) {
		t.Error("LinkError should unwrap to the transport error")
	}
	if got := err.Error(); got != "link subscribe: boom" {
		t.Errorf("Error() = %q", got)
	}
}

func TestGetShortErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewBadKey(nil, 1), "Controller rejected the key"},
		{NewRefused(nil), "Controller refused to start"},
		{NewUnknownData(nil, 0, ""), "Unknown data from controller"},
		{ErrDeviceNotFound, "Controller not found"},
		{ErrHandshakeTimeout, "Controller not responding (timeout)"},
	}
	for _, tt := range tests {
		if got := GetShortErrorMessage(Classify(tt.err)); got != tt.want {
			t.Errorf("GetShortErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestGetTroubleshootingHint_WarnsAboutLockout(t *testing.T) {
	hint := GetTroubleshootingHint(Classify(NewRefused(nil)))
	if !strings.Contains(hint, "lock") {
		t.Errorf("rejection hint should warn about lockout, got %q", hint)
	}
	unknown := GetTroubleshootingHint(Classify(NewUnknownData(nil, 0x42, "")))
	if !strings.Contains(unknown, "does not understand") {
		t.Errorf("unknown-data hint = %q", unknown)
	}
}

func TestCategoryString(t *testing.T) {
	if CategoryProtocolRejection.String() != "ProtocolRejection" {
		t.Errorf("String() = %q", CategoryProtocolRejection.String())
	}
	if Category(99).String() != "Category(99)" {
		t.Errorf("String() = %q", Category(99).String())
	}
}
