package protocol

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Message constructors for frames sent on the TXD characteristic.
//
// Every outbound frame starts with FE FE 09 followed by the type byte. Fixed
// frames are returned as fresh slices and safe to modify.

var (
	// startPrologue opens a session. The controller answers with B0/B1
	// (previous session status) or, on newer firmware, AE (key challenge).
	startPrologue = []byte{0xFE, 0xFE, 0x09, 0xB0, 0x01, 0x01, 0x00, 0x00}

	// endPrologue asks the controller to stop; it answers with B3.
	endPrologue = []byte{0xFE, 0xFE, 0x09, 0xB3, 0x00, 0x00}

	// endEpilogue acknowledges B3, after which the link is dropped.
	endEpilogue = []byte{0xFE, 0xFE, 0x09, 0xB4, 0x00, 0x00}

	// baAck acknowledges a BA user-info upload request without uploading.
	baAck = []byte{0xFE, 0xFE, 0x09, 0xBA, 0x00, 0x00}

	// offlinebombFix clears an unfinished offline (BB) session when BC arrives.
	offlinebombFix = []byte{0xFE, 0xFE, 0x09, 0xBC, 0x00, 0x00}
)

// Outbound frame layout constants
const (
	outboundLead       = 0xFE
	unlockResponseSize = 20
	startEpilogueSize  = 20

	magicKeyAuth   = 0x0B // start epilogue after a successful AE/AF exchange
	magicNoKeyAuth = 0xFF

	// MaxUserID is the largest random user id placed in a start epilogue
	MaxUserID = 9999
)

// unlockTrailer follows the key in the checksummed part of an unlock response
var unlockTrailer = []byte{0xFE, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// StartPrologue returns the session-opening frame
func StartPrologue() []byte { return clone(startPrologue) }

// EndPrologue returns the frame that requests the end of a session
func EndPrologue() []byte { return clone(endPrologue) }

// EndEpilogue returns the frame sent after B3
func EndEpilogue() []byte { return clone(endEpilogue) }

// BAAck returns the reply to a BA frame
func BAAck() []byte { return clone(baAck) }

// OfflinebombFix returns the reply to a BC frame
func OfflinebombFix() []byte { return clone(offlinebombFix) }

// BuildUnlockResponse assembles the AF reply to a key challenge.
//
// Frame Structure:
//
//	[0-3]   FE FE 09 AF
//	[4]     ChecksumB over bytes 5..19
//	[5]     echo byte from the challenge
//	[6-7]   NextNonce(nonce), big-endian
//	[8-11]  key (oracle output XOR name mask)
//	[12-19] FE 87 00 00 00 00 00 00
func BuildUnlockResponse(req *UnlockRequest, key [4]byte) []byte {
	next := NextNonce(req.Nonce)

	checksumInput := make([]byte, 0, unlockResponseSize-5)
	checksumInput = append(checksumInput, req.Echo, byte(next>>8), byte(next))
	checksumInput = append(checksumInput, key[:]...)
	checksumInput = append(checksumInput, unlockTrailer...)

	frame := make([]byte, 0, unlockResponseSize)
	frame = append(frame, outboundLead, outboundLead, FrameMarker, TypeKeyResult, ChecksumB(checksumInput))
	return append(frame, checksumInput...)
}

// StartEpilogue holds the variable inputs of the session-starting frame.
type StartEpilogue struct {
	DeviceName string
	KeyAuth    bool      // true once an AE/AF exchange succeeded
	UserID     int       // 1..MaxUserID
	Time       time.Time // converted to controller local time before encoding
}

// Build assembles the start epilogue.
//
// Frame Structure:
//
//	[0-3]   FE FE 09 B2
//	[4]     01
//	[5-6]   ChecksumA(last 5 characters of name), low byte first
//	[7]     0B with key authentication, FF without
//	[8]     00
//	[9-10]  user id, see EncodeUserID
//	[11-16] yy mm dd hh mi ss in controller local time, BCD
//	[17-19] 0F 27 00
func (s StartEpilogue) Build() ([]byte, error) {
	if s.UserID < 1 || s.UserID > MaxUserID {
		return nil, fmt.Errorf("user id %d out of range 1..%d", s.UserID, MaxUserID)
	}
	cs := ChecksumA(lastRunes(s.DeviceName, 5))
	magic := byte(magicNoKeyAuth)
	if s.KeyAuth {
		magic = magicKeyAuth
	}

	frame := make([]byte, 0, startEpilogueSize)
	frame = append(frame, outboundLead, outboundLead, FrameMarker, TypeStarted)
	frame = append(frame, 0x01, byte(cs&0xFF), byte(cs>>8), magic, 0x00)
	uid := EncodeUserID(s.UserID)
	frame = append(frame, uid[:]...)
	dt := EncodeDatetime(s.Time)
	frame = append(frame, dt[:]...)
	return append(frame, 0x0F, 0x27, 0x00), nil
}

// DecAsHex renders a decimal number as packed BCD: 42 becomes 0x42.
// Values above 99 keep growing past a byte; callers truncate.
func DecAsHex(n int) int {
	if n <= 0 {
		return 0
	}
	return n%10 | DecAsHex(n/10)<<4
}

// EncodeUserID splits id into its high and low bytes and BCD-renders each
// byte value, truncating to 8 bits. This is what the vendor app sends; it is
// not the four decimal digits of id, and the controller accepts it anyway.
func EncodeUserID(id int) [2]byte {
	return [2]byte{byte(DecAsHex(id >> 8)), byte(DecAsHex(id & 0xFF))}
}

// EncodeDatetime renders t in controller local time as six BCD bytes
func EncodeDatetime(t time.Time) [6]byte {
	lt := t.In(ControllerLocation())
	return [6]byte{
		byte(DecAsHex(lt.Year() % 100)),
		byte(DecAsHex(int(lt.Month()))),
		byte(DecAsHex(lt.Day())),
		byte(DecAsHex(lt.Hour())),
		byte(DecAsHex(lt.Minute())),
		byte(DecAsHex(lt.Second())),
	}
}

var (
	controllerLocation     *time.Location
	controllerLocationOnce sync.Once
)

// ControllerLocation returns Asia/Shanghai, or a fixed UTC+8 zone when the
// system has no tz database.
func ControllerLocation() *time.Location {
	controllerLocationOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Shanghai")
		if err != nil {
			loc = time.FixedZone("CST", 8*60*60)
		}
		controllerLocation = loc
	})
	return controllerLocation
}

// RandomUserID draws a user id in 1..MaxUserID from r
func RandomUserID(r *rand.Rand) int {
	return r.Intn(MaxUserID) + 1
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
