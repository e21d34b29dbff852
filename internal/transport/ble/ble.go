// Package ble drives the controller through the local Bluetooth adapter.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/transport"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Transport is a transport.Transport on a tinygo bluetooth adapter.
type Transport struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu           sync.Mutex
	seen         map[string]bluetooth.Address // scan results, keyed by upper-case address
	scanStop     chan struct{}
	device       *bluetooth.Device
	address      string
	chars        map[transport.Channel]bluetooth.DeviceCharacteristic
	onDisconnect func(error)
	closing      bool
}

// New creates a transport on the default adapter
func New() *Transport {
	return NewWithAdapter(bluetooth.DefaultAdapter)
}

// NewWithAdapter creates a transport on a specific adapter
func NewWithAdapter(adapter *bluetooth.Adapter) *Transport {
	return &Transport{
		adapter: adapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fault.NewLinkError(fault.LinkAdapter, fmt.Errorf("%w: %v", fault.ErrAdapterUnavailable, err))
			return
		}
		t.adapter.SetConnectHandler(t.handleConnectEvent)
	})
	return t.enableErr
}

// Scan implements transport.Transport. It blocks until ctx is done or
// StopScan is called.
func (t *Transport) Scan(ctx context.Context, filter transport.Filter, onBatch func([]transport.Device)) error {
	if err := t.enable(); err != nil {
		return err
	}

	stop := make(chan struct{})
	t.mu.Lock()
	if t.scanStop != nil {
		t.mu.Unlock()
		return fault.NewLinkError(fault.LinkScan, errors.New("scan already in progress"))
	}
	t.scanStop = stop
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.scanStop == stop {
			t.scanStop = nil
		}
		t.mu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := t.adapter.StopScan(); err != nil {
			logging.Debug("StopScan failed", zap.Error(err))
		}
	}()

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		d := transport.Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    result.RSSI,
		}
		t.mu.Lock()
		t.seen[strings.ToUpper(d.Address)] = result.Address
		t.mu.Unlock()

		if (filter == transport.Filter{}) || filter.Match(d) {
			onBatch([]transport.Device{d})
		}
	})

	// Release the stop goroutine if Scan ended on its own.
	t.signalStop(stop)
	if err != nil {
		return fault.NewLinkError(fault.LinkScan, err)
	}
	return nil
}

// StopScan implements transport.Transport
func (t *Transport) StopScan() error {
	t.mu.Lock()
	stop := t.scanStop
	t.mu.Unlock()
	if stop != nil {
		t.signalStop(stop)
	}
	return nil
}

func (t *Transport) signalStop(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-stop:
	default:
		close(stop)
	}
}

// Connect implements transport.Transport. The address must have been seen
// by a scan on this transport.
func (t *Transport) Connect(ctx context.Context, address string, onDisconnect func(error)) error {
	if err := t.enable(); err != nil {
		return err
	}

	t.mu.Lock()
	addr, ok := t.seen[strings.ToUpper(address)]
	t.mu.Unlock()
	if !ok {
		return fault.NewLinkError(fault.LinkConnect, fmt.Errorf("%w: %s was not seen in a scan", fault.ErrDeviceNotFound, address))
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{device, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The adapter call cannot be cancelled; drop the link if it lands late.
		go func() {
			if late := <-done; late.err == nil {
				_ = late.device.Disconnect()
			}
		}()
		return fault.NewLinkError(fault.LinkConnect, ctx.Err())
	}
	if res.err != nil {
		return fault.NewLinkError(fault.LinkConnect, res.err)
	}

	chars, err := discover(res.device)
	if err != nil {
		_ = res.device.Disconnect()
		return fault.NewLinkError(fault.LinkConnect, err)
	}

	t.mu.Lock()
	t.device = &res.device
	t.address = strings.ToUpper(address)
	t.chars = chars
	t.onDisconnect = onDisconnect
	t.closing = false
	t.mu.Unlock()

	logging.Info("Connected to controller", zap.String("address", address))
	return nil
}

// discover finds the TXD and RXD characteristics of the controller service
func discover(device bluetooth.Device) (map[transport.Channel]bluetooth.DeviceCharacteristic, error) {
	serviceUUID, err := bluetooth.ParseUUID(transport.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service UUID: %w", err)
	}
	txdUUID, _ := bluetooth.ParseUUID(transport.TXDUUID)
	rxdUUID, _ := bluetooth.ParseUUID(transport.RXDUUID)

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("controller service not found: %v", err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{txdUUID, rxdUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	found := make(map[transport.Channel]bluetooth.DeviceCharacteristic, 2)
	for _, c := range chars {
		switch strings.ToLower(c.UUID().String()) {
		case transport.TXDUUID:
			found[transport.TXD] = c
		case transport.RXDUUID:
			found[transport.RXD] = c
		}
	}
	if len(found) != 2 {
		return nil, fmt.Errorf("controller service is missing TXD or RXD (found %d of 2)", len(found))
	}
	return found, nil
}

func (t *Transport) characteristic(kind fault.LinkKind, ch transport.Channel) (bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil {
		return bluetooth.DeviceCharacteristic{}, fault.NewLinkError(kind, errors.New("not connected"))
	}
	c, ok := t.chars[ch]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fault.NewLinkError(kind, fmt.Errorf("unknown channel %s", ch))
	}
	return c, nil
}

// Send implements transport.Transport
func (t *Transport) Send(ctx context.Context, ch transport.Channel, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fault.NewLinkError(fault.LinkWrite, err)
	}
	c, err := t.characteristic(fault.LinkWrite, ch)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fault.NewLinkError(fault.LinkWrite, err)
	}
	return nil
}

// Subscribe implements transport.Transport
func (t *Transport) Subscribe(ctx context.Context, ch transport.Channel, onData func([]byte)) error {
	if err := ctx.Err(); err != nil {
		return fault.NewLinkError(fault.LinkSubscribe, err)
	}
	c, err := t.characteristic(fault.LinkSubscribe, ch)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(onData); err != nil {
		return fault.NewLinkError(fault.LinkSubscribe, err)
	}
	return nil
}

// Disconnect implements transport.Transport. It is a no-op when not connected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	device := t.device
	t.device = nil
	t.chars = nil
	t.onDisconnect = nil
	t.closing = true
	t.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return fault.NewLinkError(fault.LinkDisconnected, err)
	}
	return nil
}

// handleConnectEvent reports an unexpected drop of the current link
func (t *Transport) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	t.mu.Lock()
	if t.device == nil || t.closing || !strings.EqualFold(device.Address.String(), t.address) {
		t.mu.Unlock()
		return
	}
	cb := t.onDisconnect
	t.device = nil
	t.chars = nil
	t.onDisconnect = nil
	t.mu.Unlock()

	logging.Warn("Controller link dropped", zap.String("address", device.Address.String()))
	if cb != nil {
		cb(fault.NewLinkError(fault.LinkDisconnected, errors.New("connection lost")))
	}
}
