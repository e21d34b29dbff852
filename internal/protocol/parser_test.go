package protocol

import (
	"testing"

	"github.com/waterctl/waterctl/internal/fault"
)

func mustNormalize(t *testing.T, raw []byte) *Packet {
	t.Helper()
	outcome, pkt, err := Normalize(raw)
	if err != nil || outcome != Decoded {
		t.Fatalf("Normalize(% X) = %v, %v", raw, outcome, err)
	}
	return pkt
}

func TestParseUnlockRequest(t *testing.T) {
	// Truncated on the air; the fields are read from the corrected frame.
	pkt := mustNormalize(t, []byte{0x09, 0xAE, 0x00, 0x7A, 0xFF, 0xFF, 0x73, 0x63})

	req, err := ParseUnlockRequest(pkt)
	if err != nil {
		t.Fatalf("ParseUnlockRequest() error = %v", err)
	}
	if req.Echo != 0x7A {
		t.Errorf("Echo = 0x%02X, want 0x7A", req.Echo)
	}
	if req.Nonce != 0xFFFF {
		t.Errorf("Nonce = 0x%04X, want 0xFFFF", req.Nonce)
	}
	if req.MAC != [2]byte{0x73, 0x63} {
		t.Errorf("MAC = % X, want 73 63", req.MAC)
	}
	if got, want := req.OracleBlock(), [4]byte{0xFF, 0xFF, 0x73, 0x63}; got != want {
		t.Errorf("OracleBlock() = % X, want % X", got, want)
	}
}

func TestParseUnlockRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0xFD, 0xFD, 0x09, 0xAE, 0x00, 0x01, 0x00, 0x01, 0x73}},
		{"wrong type", []byte{0xFD, 0xFD, 0x09, 0xB0, 0x00, 0x01, 0x00, 0x01, 0x73, 0x63}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUnlockRequest(mustNormalize(t, tt.raw))
			if !fault.IsProtocolError(err, fault.ReasonUnknownData) {
				t.Errorf("error = %v, want UnknownData", err)
			}
		})
	}
}

func TestKeyResultStatus(t *testing.T) {
	status, err := KeyResultStatus(mustNormalize(t, []byte{0xFD, 0xFD, 0x09, 0xAF, 0x00, 0x55}))
	if err != nil {
		t.Fatalf("KeyResultStatus() error = %v", err)
	}
	if status != KeyStatusAccepted {
		t.Errorf("status = 0x%02X, want 0x55", status)
	}

	if _, err := KeyResultStatus(mustNormalize(t, []byte{0xFD, 0xFD, 0x09, 0xAF, 0x00})); err == nil {
		t.Error("expected error for 5-byte AF frame")
	}
}

func TestIsBadKeyStatus(t *testing.T) {
	for status := 0; status <= 0xFF; status++ {
		want := status == 0x01 || status == 0x02 || status == 0x04
		if got := IsBadKeyStatus(byte(status)); got != want {
			t.Errorf("IsBadKeyStatus(0x%02X) = %v, want %v", status, got, want)
		}
	}
}

func TestGetPacketTypeName(t *testing.T) {
	tests := []struct {
		typ  byte
		want string
	}{
		{0xB0, "StatusPrevious"},
		{0xAE, "KeyChallenge"},
		{0xC8, "Refused"},
		{0xAA, "Telemetry"},
		{0x42, "Unknown(0x42)"},
	}
	for _, tt := range tests {
		if got := GetPacketTypeName(tt.typ); got != tt.want {
			t.Errorf("GetPacketTypeName(0x%02X) = %q, want %q", tt.typ, got, tt.want)
		}
	}
	if IsKnownType(0x42) || !IsKnownType(0xBC) {
		t.Error("IsKnownType disagrees with the type table")
	}
}

func TestHexString(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte{0x00, 0x01, 0x02, 0x03}, "00010203"},
		{[]byte{0x12, 0x34, 0xAB, 0xCD}, "1234ABCD"},
		{[]byte{0xFE, 0xFE, 0x09, 0xAF}, "FEFE09AF"},
		{[]byte{0xCF, 0x75, 0x1B, 0x42}, "CF751B42"},
	}
	for _, tt := range tests {
		if got := HexString(tt.in); got != tt.want {
			t.Errorf("HexString(% X) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"FDFD09B2", "fd fd 09 b2", "0xFDFD09B2", "FD:FD:09:B2"} {
		got, err := ParseHex(in)
		if err != nil {
			t.Errorf("ParseHex(%q) error = %v", in, err)
			continue
		}
		if HexString(got) != "FDFD09B2" {
			t.Errorf("ParseHex(%q) = % X", in, got)
		}
	}
	if _, err := ParseHex("FDF"); err == nil {
		t.Error("expected error for odd-length hex")
	}
}
