package protocol

import (
	"bytes"
	"testing"

	"github.com/waterctl/waterctl/internal/fault"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		want     Outcome
		wantType byte
		wantData []byte
	}{
		{
			name:     "complete frame",
			raw:      []byte{0xFD, 0xFD, 0x09, 0xB2, 0x00, 0x00},
			want:     Decoded,
			wantType: 0xB2,
			wantData: []byte{0xFD, 0xFD, 0x09, 0xB2, 0x00, 0x00},
		},
		{
			name:     "one lead byte missing",
			raw:      []byte{0xFD, 0x09, 0xB3, 0x00},
			want:     Decoded,
			wantType: 0xB3,
			wantData: []byte{0xFD, 0xFD, 0x09, 0xB3, 0x00},
		},
		{
			name:     "both lead bytes missing",
			raw:      []byte{0x09, 0xAE, 0x01, 0x02},
			want:     Decoded,
			wantType: 0xAE,
			wantData: []byte{0xFD, 0xFD, 0x09, 0xAE, 0x01, 0x02},
		},
		{
			name: "AT command leak",
			raw:  []byte("AT+STAS?"),
			want: Ignore,
		},
		{name: "empty", raw: nil, want: Incomplete},
		{name: "single FD", raw: []byte{0xFD}, want: Incomplete},
		{name: "two bytes", raw: []byte{0xFD, 0xFD}, want: Incomplete},
		{name: "three bytes", raw: []byte{0xFD, 0xFD, 0x09}, want: Incomplete},
		{name: "bare marker", raw: []byte{0x09}, want: Incomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, pkt, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Normalize() outcome = %v, want %v", got, tt.want)
			}
			if tt.want != Decoded {
				if pkt != nil {
					t.Errorf("Normalize() packet = %v, want nil", pkt)
				}
				return
			}
			if pkt.Type != tt.wantType {
				t.Errorf("Type = 0x%02X, want 0x%02X", pkt.Type, tt.wantType)
			}
			if !bytes.Equal(pkt.Payload, tt.wantData) {
				t.Errorf("Payload = % X, want % X", pkt.Payload, tt.wantData)
			}
		})
	}
}

func TestNormalize_UnknownLead(t *testing.T) {
	for _, raw := range [][]byte{
		{0x00, 0xFD, 0x09, 0xB2},
		{0xFE, 0xFE, 0x09, 0xB2},
		{0x41, 0x54}, // "AT" without the plus is still garbage
	} {
		outcome, pkt, err := Normalize(raw)
		if outcome != Invalid {
			t.Errorf("Normalize(% X) outcome = %v, want %v", raw, outcome, Invalid)
		}
		if pkt != nil {
			t.Errorf("Normalize(% X) returned a packet", raw)
		}
		if !fault.IsProtocolError(err, fault.ReasonUnknownData) {
			t.Errorf("Normalize(% X) error = %v, want UnknownData", raw, err)
		}
	}
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	raw := []byte{0xFD, 0xFD, 0x09, 0xAA, 0x01}
	_, pkt, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	raw[4] = 0xFF
	if pkt.Payload[4] != 0x01 {
		t.Error("packet payload changed when the transport buffer was reused")
	}
}

func TestOutcome_String(t *testing.T) {
	if Decoded.String() != "decoded" || Ignore.String() != "ignore" {
		t.Errorf("unexpected outcome names: %s, %s", Decoded, Ignore)
	}
	if got := Outcome(42).String(); got != "Outcome(42)" {
		t.Errorf("Outcome(42).String() = %q", got)
	}
}
