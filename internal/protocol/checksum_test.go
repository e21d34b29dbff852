package protocol

import "testing"

func TestChecksumA(t *testing.T) {
	tests := []struct {
		input string
		want  uint16
	}{
		{"", 0x1017},
		{"36088", 0x5269},
		{"Water36088", 0x144A},
		{"12345", 0x6725},
		{"Water", 0x9CF1},
		{"88888", 0xB94F},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ChecksumA(tt.input); got != tt.want {
				t.Errorf("ChecksumA(%q) = 0x%04X, want 0x%04X", tt.input, got, tt.want)
			}
		})
	}
}

func TestChecksumB(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  byte
	}{
		{"empty", nil, 0x6A},
		{"single zero", []byte{0x00}, 0x5E},
		{
			name:  "unlock body nonce 0002",
			input: []byte{0x01, 0x00, 0x02, 0x1B, 0x2C, 0x3D, 0x4E, 0xFE, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want:  0xA3,
		},
		{
			name:  "unlock body nonce 1235",
			input: []byte{0x55, 0x12, 0x35, 0xCF, 0x75, 0x1B, 0x42, 0xFE, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want:  0x07,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChecksumB(tt.input); got != tt.want {
				t.Errorf("ChecksumB() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}
