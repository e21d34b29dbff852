package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/waterctl/waterctl/internal/fault"
)

// Inbound packet types (byte 3 of a corrected frame)
const (
	TypeStatusPrevious  = 0xB0 // status of the previous session
	TypeStatusPrevious2 = 0xB1 // status of the previous session, alternate form
	TypeKeyChallenge    = 0xAE // key authentication request, newer firmware only
	TypeKeyResult       = 0xAF // key authentication result
	TypeStarted         = 0xB2 // session started
	TypeEnded           = 0xB3 // session ended, carries this session's status
	TypeUserInfo        = 0xBA // user info upload request, acknowledged and ignored
	TypeOfflineSession  = 0xBC // an unfinished offline (BB) session is pending
	TypeRefused         = 0xC8 // controller refuses to start
	TypeTelemetry       = 0xAA // unknown, always shows up on first connection
)

// AF status bytes (byte 5)
const (
	KeyStatusAccepted  = 0x55
	KeyStatusBadKey    = 0x01 // "err41"
	KeyStatusRejected  = 0x02
	KeyStatusBadNonce  = 0x04 // "err43"
	keyResultMinLength = 6
)

// unlockRequestLength is the shortest AE frame that carries nonce and MAC
const unlockRequestLength = 10

var packetTypeNames = map[byte]string{
	TypeStatusPrevious:  "StatusPrevious",
	TypeStatusPrevious2: "StatusPrevious",
	TypeKeyChallenge:    "KeyChallenge",
	TypeKeyResult:       "KeyResult",
	TypeStarted:         "Started",
	TypeEnded:           "Ended",
	TypeUserInfo:        "UserInfo",
	TypeOfflineSession:  "OfflineSession",
	TypeRefused:         "Refused",
	TypeTelemetry:       "Telemetry",
}

// GetPacketTypeName returns a human-readable name for a packet type
func GetPacketTypeName(t byte) string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", t)
}

// IsKnownType reports whether the controller is documented to send t
func IsKnownType(t byte) bool {
	_, ok := packetTypeNames[t]
	return ok
}

// UnlockRequest is the content of an AE key challenge
type UnlockRequest struct {
	Echo   byte    // byte 5, meaning unknown, echoed back verbatim
	Nonce  uint16  // bytes 6-7, big-endian counter (not a cryptographic nonce)
	MAC    [2]byte // bytes 8-9, last two bytes of the controller's address
	Packet *Packet
}

// OracleBlock returns the oracle input: nonce bytes then MAC bytes
func (r *UnlockRequest) OracleBlock() [4]byte {
	var block [4]byte
	binary.BigEndian.PutUint16(block[0:2], r.Nonce)
	copy(block[2:], r.MAC[:])
	return block
}

// String returns a debug representation of the request
func (r *UnlockRequest) String() string {
	return fmt.Sprintf("UnlockRequest{echo=0x%02X, nonce=0x%04X, mac=%02X%02X}", r.Echo, r.Nonce, r.MAC[0], r.MAC[1])
}

// ParseUnlockRequest extracts the challenge fields from an AE packet
func ParseUnlockRequest(p *Packet) (*UnlockRequest, error) {
	if p.Type != TypeKeyChallenge {
		return nil, fault.NewUnknownData(p.Payload, p.Type, "not a key challenge")
	}
	if len(p.Payload) < unlockRequestLength {
		return nil, fault.NewUnknownData(p.Payload, p.Type,
			fmt.Sprintf("key challenge too short: %d bytes (need %d)", len(p.Payload), unlockRequestLength))
	}
	req := &UnlockRequest{
		Echo:   p.Payload[5],
		Nonce:  binary.BigEndian.Uint16(p.Payload[6:8]),
		Packet: p,
	}
	copy(req.MAC[:], p.Payload[8:10])
	return req, nil
}

// KeyResultStatus returns byte 5 of an AF packet
func KeyResultStatus(p *Packet) (byte, error) {
	if p.Type != TypeKeyResult {
		return 0, fault.NewUnknownData(p.Payload, p.Type, "not a key result")
	}
	if len(p.Payload) < keyResultMinLength {
		return 0, fault.NewUnknownData(p.Payload, p.Type,
			fmt.Sprintf("key result too short: %d bytes", len(p.Payload)))
	}
	return p.Payload[5], nil
}

// IsBadKeyStatus reports whether an AF status means the key or nonce was wrong
func IsBadKeyStatus(status byte) bool {
	switch status {
	case KeyStatusBadKey, KeyStatusRejected, KeyStatusBadNonce:
		return true
	}
	return false
}

// HexString renders bytes as contiguous uppercase hex, e.g. "FEFE09AF"
func HexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex accepts hex with optional spaces, colons or a 0x prefix
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
