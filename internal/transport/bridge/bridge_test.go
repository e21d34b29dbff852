package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/simulator"
	"github.com/waterctl/waterctl/internal/transport"
)

var _ transport.Transport = (*Client)(nil)

// startGateway serves ctrl over an httptest server and dials it
func startGateway(t *testing.T, ctrl transport.Transport) (*Client, *Server, string) {
	t.Helper()
	gw := NewServer(&ServerConfig{}, ctrl)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, gw, url
}

func TestBridge_ScanConnectHandshake(t *testing.T) {
	ctrl := simulator.New(simulator.Config{})
	client, _, _ := startGateway(t, ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	found := make(chan transport.Device, 1)
	err := client.Scan(ctx, transport.Filter{Name: simulator.DefaultName}, func(devices []transport.Device) {
		for _, d := range devices {
			select {
			case found <- d:
			default:
			}
		}
		go func() { _ = client.StopScan() }()
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var dev transport.Device
	select {
	case dev = <-found:
	default:
		t.Fatal("Scan() reported no device")
	}
	if dev.Address != simulator.DefaultAddress || dev.RSSI != simulator.DefaultRSSI {
		t.Errorf("device = %+v", dev)
	}

	if err := client.Connect(ctx, dev.Address, func(error) {}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	frames := make(chan []byte, 8)
	if err := client.Subscribe(ctx, transport.RXD, func(b []byte) { frames <- b }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Send(ctx, transport.TXD, protocol.StartPrologue()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case f := <-frames:
		if f[3] != protocol.TypeStatusPrevious {
			t.Errorf("notification = % X, want B0", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification through the bridge")
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if ctrl.Connected() {
		t.Error("controller still connected after Disconnect()")
	}
}

func TestBridge_RemoteErrors(t *testing.T) {
	ctrl := simulator.New(simulator.Config{ConnectErr: errors.New("GATT operation failed")})
	client, _, _ := startGateway(t, ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Connect(ctx, simulator.DefaultAddress, nil)
	var le *fault.LinkError
	if !errors.As(err, &le) || le.Kind != fault.LinkConnect {
		t.Fatalf("Connect() error = %v, want connect LinkError", err)
	}
	if !strings.Contains(err.Error(), "GATT operation failed") {
		t.Errorf("Connect() error = %v, want the gateway's message", err)
	}

	err = client.Send(ctx, transport.TXD, protocol.StartPrologue())
	if !errors.As(err, &le) || le.Kind != fault.LinkWrite {
		t.Errorf("Send() error = %v, want write LinkError", err)
	}
}

func TestBridge_RemoteDrop(t *testing.T) {
	ctrl := simulator.New(simulator.Config{})
	client, _, _ := startGateway(t, ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dropped := make(chan error, 1)
	if err := client.Connect(ctx, simulator.DefaultAddress, func(err error) { dropped <- err }); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ctrl.Drop(errors.New("out of range"))

	select {
	case err := <-dropped:
		if got := fault.Classify(err).Category; got != fault.CategoryConnectionLost {
			t.Errorf("drop classified as %v, want ConnectionLost", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect not called")
	}
}

func TestBridge_GatewayGone(t *testing.T) {
	ctrl := simulator.New(simulator.Config{})
	client, gw, _ := startGateway(t, ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dropped := make(chan error, 1)
	if err := client.Connect(ctx, simulator.DefaultAddress, func(err error) { dropped <- err }); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-dropped:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("drop error = %v, want ErrClosed", err)
		}
		if got := fault.Classify(err).Category; got != fault.CategoryConnectionLost {
			t.Errorf("drop classified as %v, want ConnectionLost", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect not called when the gateway went away")
	}

	if err := client.Send(ctx, transport.TXD, protocol.BAAck()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
}

// silentPeer accepts a websocket and keeps reading without ever answering
// pings, like a host that went away without closing the connection
func silentPeer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
}

func TestClient_SilentGatewayTimesOut(t *testing.T) {
	url := silentPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, time.Second, WithPongWait(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case <-client.done:
	case <-time.After(2 * time.Second):
		t.Fatal("client kept a gateway that stopped answering pings")
	}

	err = client.Send(ctx, transport.TXD, protocol.BAAck())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
}

func TestServer_SilentClientFreesSlot(t *testing.T) {
	ctrl := simulator.New(simulator.Config{})
	gw := NewServer(&ServerConfig{PongWait: 100 * time.Millisecond}, ctrl)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath

	// Never reading means never answering the gateway's pings.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for gw.GetActiveConnections() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for gw.GetActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("silent client still holds the gateway")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client, err := Dial(context.Background(), url, time.Second)
	if err != nil {
		t.Fatalf("second Dial() error = %v", err)
	}
	_ = client.Close()
}

func TestServer_SingleClient(t *testing.T) {
	ctrl := simulator.New(simulator.Config{})
	_, gw, url := startGateway(t, ctrl)

	deadline := time.Now().Add(2 * time.Second)
	for gw.GetActiveConnections() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second client was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("second client response = %v, want 409", resp)
	}
}

func TestDial_BadURL(t *testing.T) {
	tests := []string{"http://localhost:1/ws", "::not a url"}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			if _, err := Dial(context.Background(), raw, 0); err == nil {
				t.Errorf("Dial(%q) succeeded", raw)
			}
		})
	}
}
