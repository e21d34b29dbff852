package protocol

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestFixedFrames(t *testing.T) {
	tests := []struct {
		name  string
		build func() []byte
		want  []byte
	}{
		{"start prologue", StartPrologue, []byte{0xFE, 0xFE, 0x09, 0xB0, 0x01, 0x01, 0x00, 0x00}},
		{"end prologue", EndPrologue, []byte{0xFE, 0xFE, 0x09, 0xB3, 0x00, 0x00}},
		{"end epilogue", EndEpilogue, []byte{0xFE, 0xFE, 0x09, 0xB4, 0x00, 0x00}},
		{"ba ack", BAAck, []byte{0xFE, 0xFE, 0x09, 0xBA, 0x00, 0x00}},
		{"offlinebomb fix", OfflinebombFix, []byte{0xFE, 0xFE, 0x09, 0xBC, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.build()
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
			got[3] = 0x00
			if again := tt.build(); !bytes.Equal(again, tt.want) {
				t.Error("modifying a returned frame changed the next one")
			}
		})
	}
}

func TestBuildUnlockResponse(t *testing.T) {
	key := [4]byte{0x17, 0x22, 0x3B, 0x4C}

	tests := []struct {
		name string
		req  *UnlockRequest
		want []byte
	}{
		{
			name: "plain increment",
			req:  &UnlockRequest{Echo: 0x01, Nonce: 0x0001},
			want: []byte{
				0xFE, 0xFE, 0x09, 0xAF, 0x7E,
				0x01, 0x00, 0x02, 0x17, 0x22, 0x3B, 0x4C,
				0xFE, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name: "nonce wraparound",
			req:  &UnlockRequest{Echo: 0x7A, Nonce: 0xFFFF},
			want: []byte{
				0xFE, 0xFE, 0x09, 0xAF, 0x42,
				0x7A, 0x01, 0x00, 0x17, 0x22, 0x3B, 0x4C,
				0xFE, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildUnlockResponse(tt.req, key)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("BuildUnlockResponse() =\n% X\nwant\n% X", got, tt.want)
			}
			if got[4] != ChecksumB(got[5:]) {
				t.Errorf("checksum byte 0x%02X does not cover the body", got[4])
			}
		})
	}
}

func TestStartEpilogue_Build(t *testing.T) {
	at := time.Date(2024, time.March, 5, 12, 34, 56, 0, time.UTC) // 20:34:56 in Shanghai

	tests := []struct {
		name    string
		keyAuth bool
		magic   byte
	}{
		{"without key auth", false, 0xFF},
		{"with key auth", true, 0x0B},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StartEpilogue{DeviceName: "Water36088", KeyAuth: tt.keyAuth, UserID: 1234, Time: at}.Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			want := []byte{
				0xFE, 0xFE, 0x09, 0xB2,
				0x01, 0x69, 0x52, tt.magic,
				0x00, 0x04, 0x10,
				0x24, 0x03, 0x05, 0x20, 0x34, 0x56,
				0x0F, 0x27, 0x00,
			}
			if !bytes.Equal(got, want) {
				t.Errorf("Build() =\n% X\nwant\n% X", got, want)
			}
		})
	}
}

func TestStartEpilogue_BadUserID(t *testing.T) {
	for _, id := range []int{0, -1, MaxUserID + 1} {
		if _, err := (StartEpilogue{DeviceName: "Water36088", UserID: id}).Build(); err == nil {
			t.Errorf("Build() with user id %d should fail", id)
		}
	}
}

func TestDecAsHex(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0x00}, {1, 0x01}, {9, 0x09}, {10, 0x10}, {11, 0x11}, {19, 0x19}, {99, 0x99}, {-5, 0},
	}
	for _, tt := range tests {
		if got := DecAsHex(tt.in); got != tt.want {
			t.Errorf("DecAsHex(%d) = 0x%X, want 0x%X", tt.in, got, tt.want)
		}
	}
}

func TestEncodeUserID(t *testing.T) {
	tests := []struct {
		id   int
		want [2]byte
	}{
		{1, [2]byte{0x00, 0x01}},
		{99, [2]byte{0x00, 0x99}},
		{300, [2]byte{0x01, 0x44}},
		{1234, [2]byte{0x04, 0x10}},
		{9999, [2]byte{0x39, 0x15}},
	}
	for _, tt := range tests {
		if got := EncodeUserID(tt.id); got != tt.want {
			t.Errorf("EncodeUserID(%d) = % X, want % X", tt.id, got, tt.want)
		}
	}
}

func TestRandomUserID(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		if id := RandomUserID(r); id < 1 || id > MaxUserID {
			t.Fatalf("RandomUserID() = %d, out of range", id)
		}
	}
}
