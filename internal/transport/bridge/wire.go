// Package bridge carries the transport operations over a websocket to a
// remote BLE gateway.
//
// A gateway is any host with a Bluetooth adapter near the controller that
// runs "waterctl bridge serve". Clients find gateways via mDNS
// (_waterctl._tcp) or a configured URL.
//
// # Wire Format
//
// Every websocket message is a JSON text frame. The client sends requests
// tagged with an id; the gateway answers each with a result carrying the
// same id, and pushes unsolicited events:
//
//	-> {"id":1,"op":"scan","name":"Water36088"}
//	<- {"type":"scan_batch","devices":[{"name":"Water36088","address":"6D:6C:00:02:73:63","rssi":-60}]}
//	-> {"id":2,"op":"connect","address":"6D:6C:00:02:73:63"}
//	<- {"type":"result","id":2}
//	-> {"id":3,"op":"write","channel":"0000f1f1-...","data":"FEFE09B00101..."}
//	<- {"type":"notify","channel":"0000f1f2-...","data":"FDFD09B0..."}
//	<- {"type":"disconnected","error":"connection lost"}
//
// # Keepalive
//
// Both ends ping the other and expect a pong within the pong wait. A peer
// that vanishes without closing its TCP connection is dropped once the wait
// runs out, which on the client reports ConnectionLost to the session.
package bridge

import (
	"time"

	"github.com/waterctl/waterctl/internal/transport"
)

// DefaultPongWait is the time allowed to read the next pong from the peer
const DefaultPongWait = 60 * time.Second

// pingPeriod must stay below the pong wait
func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}

// Request operations
const (
	OpScan       = "scan"
	OpStopScan   = "stop_scan"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpWrite      = "write"
	OpSubscribe  = "subscribe"
)

// Message types sent by the gateway
const (
	TypeResult       = "result"
	TypeScanBatch    = "scan_batch"
	TypeScanDone     = "scan_done"
	TypeNotify       = "notify"
	TypeDisconnected = "disconnected"
)

// Request is a client operation
type Request struct {
	ID      uint64 `json:"id"`
	Op      string `json:"op"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"` // uppercase hex
}

// Message is a gateway reply or event
type Message struct {
	Type    string       `json:"type"`
	ID      uint64       `json:"id,omitempty"`
	Error   string       `json:"error,omitempty"`
	Devices []DeviceInfo `json:"devices,omitempty"`
	Channel string       `json:"channel,omitempty"`
	Data    string       `json:"data,omitempty"`
}

// DeviceInfo is a scan result on the wire
type DeviceInfo struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	RSSI    int16  `json:"rssi,omitempty"`
}

func toDeviceInfo(devices []transport.Device) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = DeviceInfo{Name: d.Name, Address: d.Address, RSSI: d.RSSI}
	}
	return out
}

func fromDeviceInfo(devices []DeviceInfo) []transport.Device {
	out := make([]transport.Device, len(devices))
	for i, d := range devices {
		out[i] = transport.Device{Name: d.Name, Address: d.Address, RSSI: d.RSSI}
	}
	return out
}
