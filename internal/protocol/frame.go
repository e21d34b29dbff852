package protocol

import (
	"bytes"
	"fmt"

	"github.com/waterctl/waterctl/internal/fault"
)

// Frame lead bytes as seen on the RXD characteristic
const (
	LeadByte     = 0xFD
	FrameMarker  = 0x09
	MinFrameSize = 4 // lead, lead, marker, type
	TypeOffset   = 3
)

// atPrefix is "AT+": the radio module leaks modem commands onto the data channel
var atPrefix = []byte{0x41, 0x54, 0x2B}

// Outcome tells the caller what to do with a normalized frame.
type Outcome int

const (
	// Decoded means a Packet was produced.
	Decoded Outcome = iota
	// Incomplete means the corrected frame is too short to carry a type; drop it.
	Incomplete
	// Ignore means the frame is known noise (leaked AT commands); drop it.
	Ignore
	// Invalid means the frame violates the protocol; an error accompanies it.
	Invalid
)

// String returns a human-readable name for the outcome
func (o Outcome) String() string {
	switch o {
	case Decoded:
		return "decoded"
	case Incomplete:
		return "incomplete"
	case Ignore:
		return "ignore"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Packet is a frame after quirk correction. Payload is the whole corrected
// frame, lead bytes included, so fixed offsets match the controller's layout.
type Packet struct {
	Type    byte
	Payload []byte
}

// String returns a debug representation of the packet
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{type=0x%02X (%s), len=%d}", p.Type, GetPacketTypeName(p.Type), len(p.Payload))
}

// Normalize corrects known framing defects in a raw notification and extracts
// the packet type.
//
// The controller's radio stack sometimes drops one or two leading 0xFD bytes;
// they are restored here. A frame starting with anything other than 0xFD or
// 0x09 is a protocol violation.
func Normalize(raw []byte) (Outcome, *Packet, error) {
	if bytes.HasPrefix(raw, atPrefix) {
		return Ignore, nil, nil
	}
	if len(raw) == 0 {
		return Incomplete, nil, nil
	}
	if raw[0] != LeadByte && raw[0] != FrameMarker {
		return Invalid, nil, fault.NewUnknownData(raw, 0, fmt.Sprintf("unexpected lead byte 0x%02X", raw[0]))
	}

	// Always copy: the transport may reuse its buffer.
	frame := append(make([]byte, 0, len(raw)+2), raw...)
	if len(frame) > 1 && frame[1] == FrameMarker {
		frame = prepend(frame, LeadByte)
	}
	if frame[0] == FrameMarker {
		frame = prepend(frame, LeadByte, LeadByte)
	}

	if len(frame) < MinFrameSize {
		return Incomplete, nil, nil
	}
	return Decoded, &Packet{Type: frame[TypeOffset], Payload: frame}, nil
}

func prepend(b []byte, lead ...byte) []byte {
	out := make([]byte, 0, len(lead)+len(b))
	out = append(out, lead...)
	return append(out, b...)
}
