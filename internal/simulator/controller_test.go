package simulator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/transport"
)

// xorOracle is a stand-in key derivation used by the tests
var xorOracle = protocol.OracleFunc(func(_ context.Context, in [4]byte) ([4]byte, error) {
	return [4]byte{in[0] ^ 0x5A, in[1] ^ 0xA5, in[2] ^ 0x3C, in[3] ^ 0xC3}, nil
})

// link connects to ctrl and collects notifications
func link(t *testing.T, ctrl *Controller) <-chan []byte {
	t.Helper()
	ctx := context.Background()
	if err := ctrl.Connect(ctx, ctrl.Config().Address, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	frames := make(chan []byte, 32)
	if err := ctrl.Subscribe(ctx, transport.RXD, func(b []byte) { frames <- b }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Disconnect() })
	return frames
}

func next(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notification")
		return nil
	}
}

func send(t *testing.T, ctrl *Controller, frame []byte) {
	t.Helper()
	if err := ctrl.Send(context.Background(), transport.TXD, frame); err != nil {
		t.Fatalf("Send(% X) error = %v", frame, err)
	}
}

func TestController_Scan(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		filter transport.Filter
		want   int
	}{
		{"match by name", Config{}, transport.Filter{Name: DefaultName}, 1},
		{"match by address", Config{}, transport.Filter{Address: "6d:6c:00:02:73:63"}, 1},
		{"empty filter reports all", Config{}, transport.Filter{}, 1},
		{"other device", Config{}, transport.Filter{Name: "Water00000"}, 0},
		{"hidden", Config{Hidden: true}, transport.Filter{Name: DefaultName}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := New(tt.config)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			var got []transport.Device
			if err := ctrl.Scan(ctx, tt.filter, func(d []transport.Device) { got = append(got, d...) }); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Scan() reported %d devices, want %d", len(got), tt.want)
			}
		})
	}
}

func TestController_StopScan(t *testing.T) {
	ctrl := New(Config{})
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Scan(context.Background(), transport.Filter{}, func([]transport.Device) {})
	}()

	// StopScan before the scan registers is harmless; keep stopping until it returns.
	deadline := time.After(2 * time.Second)
	for {
		_ = ctrl.StopScan()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			return
		case <-deadline:
			t.Fatal("Scan() did not return after StopScan()")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestController_LegacyHandshake(t *testing.T) {
	ctrl := New(Config{})
	frames := link(t, ctrl)

	send(t, ctrl, protocol.StartPrologue())
	if got := next(t, frames); got[3] != protocol.TypeStatusPrevious {
		t.Errorf("first reply type = 0x%02X, want B0", got[3])
	}
	if got := next(t, frames); got[3] != protocol.TypeStatusPrevious2 {
		t.Errorf("second reply type = 0x%02X, want B1", got[3])
	}

	epilogue, err := protocol.StartEpilogue{DeviceName: DefaultName, UserID: 1, Time: time.Now()}.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	send(t, ctrl, epilogue)
	if got := next(t, frames); got[3] != protocol.TypeStarted {
		t.Errorf("reply type = 0x%02X, want B2", got[3])
	}
	if !ctrl.Active() {
		t.Error("Active() = false after B2")
	}

	send(t, ctrl, protocol.EndPrologue())
	if got := next(t, frames); got[3] != protocol.TypeEnded {
		t.Errorf("reply type = 0x%02X, want B3", got[3])
	}
	if ctrl.Active() {
		t.Error("Active() = true after B3")
	}

	stats := ctrl.Stats()
	if stats.Started != 1 || stats.Ended != 1 || stats.Writes != 3 {
		t.Errorf("Stats() = %+v, want 1 start, 1 end, 3 writes", stats)
	}
}

func TestController_KeyChallenge(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		tamper func(resp []byte)
		want   byte
	}{
		{"correct key", Config{KeyAuth: true, Oracle: xorOracle}, nil, protocol.KeyStatusAccepted},
		{"wrong key", Config{KeyAuth: true, Oracle: xorOracle}, func(r []byte) {
			r[8] ^= 0xFF
			r[4] = protocol.ChecksumB(r[5:])
		}, protocol.KeyStatusBadKey},
		{"bad checksum", Config{KeyAuth: true, Oracle: xorOracle}, func(r []byte) { r[4]++ }, protocol.KeyStatusBadKey},
		{"forced status", Config{KeyAuth: true, KeyStatus: 0x33}, nil, 0x33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := New(tt.config)
			frames := link(t, ctrl)

			send(t, ctrl, protocol.StartPrologue())
			_, pkt, err := protocol.Normalize(next(t, frames))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			req, err := protocol.ParseUnlockRequest(pkt)
			if err != nil {
				t.Fatalf("ParseUnlockRequest() error = %v", err)
			}
			if req.Nonce != DefaultNonce || req.MAC != [2]byte{0x73, 0x63} {
				t.Fatalf("challenge = %v", req)
			}

			key, err := protocol.UnlockKey(context.Background(), xorOracle, req, DefaultName)
			if err != nil {
				t.Fatalf("UnlockKey() error = %v", err)
			}
			resp := protocol.BuildUnlockResponse(req, key)
			if tt.tamper != nil {
				tt.tamper(resp)
			}
			send(t, ctrl, resp)

			got := next(t, frames)
			if got[3] != protocol.TypeKeyResult || got[5] != tt.want {
				t.Errorf("reply = % X, want AF with status 0x%02X", got, tt.want)
			}
		})
	}
}

func TestController_Refuse(t *testing.T) {
	ctrl := New(Config{Refuse: true})
	frames := link(t, ctrl)

	epilogue, _ := protocol.StartEpilogue{DeviceName: DefaultName, UserID: 1, Time: time.Now()}.Build()
	send(t, ctrl, epilogue)
	if got := next(t, frames); got[3] != protocol.TypeRefused {
		t.Errorf("reply type = 0x%02X, want C8", got[3])
	}
	if ctrl.Stats().Started != 0 {
		t.Error("refused session counted as started")
	}
}

func TestController_Quirks(t *testing.T) {
	ctrl := New(Config{TruncateLead: 2, Duplicates: 1, LeakAT: true})
	frames := link(t, ctrl)

	send(t, ctrl, protocol.StartPrologue())

	if got := next(t, frames); !bytes.HasPrefix(got, []byte("AT+")) {
		t.Errorf("first notification = %q, want AT chatter", got)
	}
	first := next(t, frames)
	second := next(t, frames)
	if !bytes.Equal(first, second) {
		t.Errorf("duplicate = % X, want % X", second, first)
	}
	if first[0] != protocol.FrameMarker || first[1] != protocol.TypeStatusPrevious {
		t.Errorf("truncated frame = % X, want 09 B0 ...", first)
	}
	outcome, pkt, err := protocol.Normalize(first)
	if err != nil || outcome != protocol.Decoded || pkt.Type != protocol.TypeStatusPrevious {
		t.Errorf("Normalize(% X) = %v, %v, %v", first, outcome, pkt, err)
	}
}

func TestController_Silent(t *testing.T) {
	ctrl := New(Config{Silent: true})
	frames := link(t, ctrl)

	send(t, ctrl, protocol.StartPrologue())
	select {
	case f := <-frames:
		t.Errorf("silent controller answered % X", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_Errors(t *testing.T) {
	t.Run("send before connect", func(t *testing.T) {
		ctrl := New(Config{})
		err := ctrl.Send(context.Background(), transport.TXD, protocol.StartPrologue())
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Send() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("connect error", func(t *testing.T) {
		ctrl := New(Config{ConnectErr: errors.New("GATT operation failed")})
		err := ctrl.Connect(context.Background(), DefaultAddress, nil)
		var le *fault.LinkError
		if !errors.As(err, &le) || le.Kind != fault.LinkConnect {
			t.Errorf("Connect() error = %v, want connect LinkError", err)
		}
	})

	t.Run("failed writes", func(t *testing.T) {
		ctrl := New(Config{FailWrites: 2})
		link(t, ctrl)
		for i := 0; i < 2; i++ {
			if err := ctrl.Send(context.Background(), transport.TXD, protocol.BAAck()); err == nil {
				t.Errorf("write %d succeeded, want failure", i+1)
			}
		}
		if err := ctrl.Send(context.Background(), transport.TXD, protocol.BAAck()); err != nil {
			t.Errorf("third write error = %v", err)
		}
	})

	t.Run("drop", func(t *testing.T) {
		ctrl := New(Config{})
		dropped := make(chan error, 1)
		if err := ctrl.Connect(context.Background(), DefaultAddress, func(err error) { dropped <- err }); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		ctrl.Drop(errors.New("out of range"))
		select {
		case err := <-dropped:
			if fault.Classify(err).Category != fault.CategoryConnectionLost {
				t.Errorf("drop classified as %v", fault.Classify(err).Category)
			}
		case <-time.After(time.Second):
			t.Fatal("onDisconnect not called")
		}
		if ctrl.Connected() {
			t.Error("Connected() = true after Drop()")
		}
	})
}

func TestLoopbackOracle(t *testing.T) {
	in := [4]byte{0x12, 0x34, 0x73, 0x63}
	want, _ := xorOracle.DeriveKey(context.Background(), in)
	got, err := LoopbackOracle.DeriveKey(context.Background(), in)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if got != want {
		t.Errorf("DeriveKey(%X) = %X, want %X", in, got, want)
	}
}
