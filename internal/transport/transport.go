// Package transport defines the radio link the session drives.
//
// Implementations live in subpackages: ble talks to a local adapter, bridge
// talks to a remote gateway over a websocket, and package simulator provides
// an in-process controller for tests.
package transport

import (
	"context"
	"strings"
)

// GATT identifiers of the water controller
const (
	ServiceUUID = "0000f1f0-0000-1000-8000-00805f9b34fb"
	TXDUUID     = "0000f1f1-0000-1000-8000-00805f9b34fb" // write without response
	RXDUUID     = "0000f1f2-0000-1000-8000-00805f9b34fb" // notify
)

// Channel names a characteristic on the controller
type Channel string

const (
	TXD Channel = TXDUUID
	RXD Channel = RXDUUID
)

// Device is one scan result
type Device struct {
	Name    string
	Address string
	RSSI    int16
}

// Filter selects the controller during a scan. A device matches when its
// name or its address equals the configured one; empty fields never match.
type Filter struct {
	Name    string
	Address string
}

// Match reports whether d is the controller the filter is looking for
func (f Filter) Match(d Device) bool {
	if f.Name != "" && d.Name == f.Name {
		return true
	}
	if f.Address != "" && strings.EqualFold(d.Address, f.Address) {
		return true
	}
	return false
}

// Transport is a radio link to a single controller.
//
// Scan blocks until ctx is done or StopScan is called, reporting batches of
// devices as they are found. Connect blocks until the link is up; after
// that, onDisconnect is called at most once if the link drops without a
// Disconnect call. onBatch, onDisconnect and onData may be called from any
// goroutine and must not block.
type Transport interface {
	Scan(ctx context.Context, filter Filter, onBatch func([]Device)) error
	StopScan() error
	Connect(ctx context.Context, address string, onDisconnect func(error)) error
	Disconnect() error
	Send(ctx context.Context, ch Channel, data []byte) error
	Subscribe(ctx context.Context, ch Channel, onData func([]byte)) error
}
