package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/transport"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Defaults for the simulated controller
const (
	DefaultName    = "Water36088"
	DefaultAddress = "6D:6C:00:02:73:63"
	DefaultRSSI    = -62
	DefaultNonce   = 0x1234
	DefaultEcho    = 0x7A
)

// ErrNotConnected is returned by Send and Subscribe before Connect
var ErrNotConnected = errors.New("simulated controller not connected")

// atChatter is what leaks from the radio module's command interface
var atChatter = []byte("AT+NAME?\r\n")

// Config describes the simulated firmware
type Config struct {
	Name    string
	Address string
	RSSI    int16

	// Hidden keeps the controller out of scan results
	Hidden bool
	// ConnectErr makes every Connect fail with this error
	ConnectErr error
	// FailWrites fails the first n writes
	FailWrites int

	// KeyAuth answers the prologue with an AE challenge instead of B0/B1
	KeyAuth bool
	Echo    byte
	Nonce   uint16
	// MAC defaults to the last two bytes of Address
	MAC *[2]byte
	// Oracle checks unlock responses; nil accepts any key
	Oracle protocol.KeyDerivationOracle
	// KeyStatus overrides the AF status byte (0 means derive it from the key check)
	KeyStatus byte

	// Refuse answers the start epilogue with C8
	Refuse bool
	// Silent never answers the prologue
	Silent bool
	// IgnoreEnd never answers the end prologue
	IgnoreEnd bool

	// AskUserInfo sends BA after B2
	AskUserInfo bool
	// OfflineSession sends BC before the handshake reply
	OfflineSession bool
	// Telemetry sends an AA frame after B2
	Telemetry bool

	// TruncateLead strips 1 or 2 leading bytes from every notification
	TruncateLead int
	// Duplicates delivers every notification this many extra times
	Duplicates int
	// LeakAT sends modem chatter before the first notification
	LeakAT bool
}

// Stats counts what the controller has seen
type Stats struct {
	Connects      int64
	Writes        int64
	Notifications int64
	Started       int64
	Ended         int64
}

// Controller is a simulated water controller. It implements
// transport.Transport.
type Controller struct {
	config Config

	connects      *atomic.Int64
	writes        *atomic.Int64
	notifications *atomic.Int64
	started       *atomic.Int64
	ended         *atomic.Int64
	failWrites    *atomic.Int64

	mu           sync.Mutex
	scanStop     chan struct{}
	connected    bool
	onDisconnect func(error)
	onData       func([]byte)
	leaked       bool
	active       bool
	written      [][]byte
	queue        chan []byte
	queueDone    chan struct{}
}

// New creates a simulated controller
func New(config Config) *Controller {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.RSSI == 0 {
		config.RSSI = DefaultRSSI
	}
	if config.Echo == 0 {
		config.Echo = DefaultEcho
	}
	if config.Nonce == 0 {
		config.Nonce = DefaultNonce
	}
	if config.MAC == nil {
		mac := macFromAddress(config.Address)
		config.MAC = &mac
	}
	return &Controller{
		config:        config,
		connects:      atomic.NewInt64(0),
		writes:        atomic.NewInt64(0),
		notifications: atomic.NewInt64(0),
		started:       atomic.NewInt64(0),
		ended:         atomic.NewInt64(0),
		failWrites:    atomic.NewInt64(int64(config.FailWrites)),
	}
}

// Config returns the firmware configuration
func (c *Controller) Config() Config {
	return c.config
}

// Stats returns a snapshot of the counters
func (c *Controller) Stats() Stats {
	return Stats{
		Connects:      c.connects.Load(),
		Writes:        c.writes.Load(),
		Notifications: c.notifications.Load(),
		Started:       c.started.Load(),
		Ended:         c.ended.Load(),
	}
}

// Written returns copies of every frame written to TXD
func (c *Controller) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	for i, f := range c.written {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Active reports whether a water session is running
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Connected reports whether a client holds the link
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Scan implements transport.Transport
func (c *Controller) Scan(ctx context.Context, filter transport.Filter, onBatch func([]transport.Device)) error {
	stop := make(chan struct{})
	c.mu.Lock()
	if c.scanStop != nil {
		c.mu.Unlock()
		return fault.NewLinkError(fault.LinkScan, errors.New("scan already in progress"))
	}
	c.scanStop = stop
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.scanStop = nil
		c.mu.Unlock()
	}()

	if !c.config.Hidden {
		dev := transport.Device{Name: c.config.Name, Address: c.config.Address, RSSI: c.config.RSSI}
		if (filter.Name == "" && filter.Address == "") || filter.Match(dev) {
			onBatch([]transport.Device{dev})
		}
	}

	select {
	case <-ctx.Done():
	case <-stop:
	}
	return nil
}

// StopScan implements transport.Transport
func (c *Controller) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanStop != nil {
		select {
		case <-c.scanStop:
		default:
			close(c.scanStop)
		}
	}
	return nil
}

// Connect implements transport.Transport
func (c *Controller) Connect(ctx context.Context, address string, onDisconnect func(error)) error {
	if err := ctx.Err(); err != nil {
		return fault.NewLinkError(fault.LinkConnect, err)
	}
	if c.config.ConnectErr != nil {
		return fault.NewLinkError(fault.LinkConnect, c.config.ConnectErr)
	}
	if !strings.EqualFold(address, c.config.Address) {
		return fault.NewLinkError(fault.LinkConnect, fmt.Errorf("no device at %s", address))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return fault.NewLinkError(fault.LinkConnect, errors.New("controller already connected"))
	}
	c.connected = true
	c.onDisconnect = onDisconnect
	c.onData = nil
	c.leaked = false
	c.queue = make(chan []byte, 64)
	c.queueDone = make(chan struct{})
	go c.deliver(c.queue, c.queueDone)
	c.connects.Inc()

	logging.Debug("Simulator: client connected", zap.String("address", address))
	return nil
}

// Disconnect implements transport.Transport
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// Drop simulates the controller losing the link
func (c *Controller) Drop(reason error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	cb := c.onDisconnect
	c.closeLocked()
	c.mu.Unlock()

	if cb != nil {
		cb(fault.NewLinkError(fault.LinkDisconnected, reason))
	}
}

func (c *Controller) closeLocked() {
	if !c.connected {
		return
	}
	c.connected = false
	c.onDisconnect = nil
	c.onData = nil
	close(c.queueDone)
	c.queue = nil
}

// Subscribe implements transport.Transport
func (c *Controller) Subscribe(ctx context.Context, ch transport.Channel, onData func([]byte)) error {
	if ch != transport.RXD {
		return fault.NewLinkError(fault.LinkSubscribe, fmt.Errorf("characteristic %s does not notify", ch))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fault.NewLinkError(fault.LinkSubscribe, ErrNotConnected)
	}
	c.onData = onData
	return nil
}

// Send implements transport.Transport
func (c *Controller) Send(ctx context.Context, ch transport.Channel, data []byte) error {
	if ch != transport.TXD {
		return fault.NewLinkError(fault.LinkWrite, fmt.Errorf("characteristic %s is not writable", ch))
	}
	if c.failWrites.Load() > 0 && c.failWrites.Dec() >= 0 {
		return fault.NewLinkError(fault.LinkWrite, errors.New("GATT operation failed"))
	}

	frame := append([]byte(nil), data...)
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fault.NewLinkError(fault.LinkWrite, ErrNotConnected)
	}
	c.written = append(c.written, frame)
	c.mu.Unlock()
	c.writes.Inc()

	logging.LogFrame("sim-rx", frame)
	c.handle(ctx, frame)
	return nil
}

// handle runs the firmware's reaction to one written frame
func (c *Controller) handle(ctx context.Context, frame []byte) {
	if len(frame) < 4 {
		return
	}
	switch frame[3] {
	case protocol.TypeStatusPrevious:
		if c.config.Silent {
			return
		}
		if c.config.OfflineSession {
			c.notify(c.reply(protocol.TypeOfflineSession, 0x00, 0x00))
		}
		if c.config.KeyAuth {
			c.notify(c.challenge())
			return
		}
		c.notify(c.reply(protocol.TypeStatusPrevious, 0x00, 0x00))
		c.notify(c.reply(protocol.TypeStatusPrevious2, 0x00, 0x00))

	case protocol.TypeKeyResult:
		c.notify(c.reply(protocol.TypeKeyResult, 0x00, c.keyStatus(ctx, frame)))

	case protocol.TypeStarted:
		if c.config.Refuse {
			c.notify(c.reply(protocol.TypeRefused, 0x00, 0x00))
			return
		}
		c.mu.Lock()
		c.active = true
		c.mu.Unlock()
		c.started.Inc()
		c.notify(c.reply(protocol.TypeStarted, 0x00, 0x00))
		if c.config.Telemetry {
			c.notify(c.reply(protocol.TypeTelemetry, 0x00, 0x01, 0x02, 0x03))
		}
		if c.config.AskUserInfo {
			c.notify(c.reply(protocol.TypeUserInfo, 0x00, 0x00))
		}

	case protocol.TypeEnded:
		if c.config.IgnoreEnd {
			return
		}
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		c.ended.Inc()
		c.notify(c.reply(protocol.TypeEnded, 0x00, 0x00))

	default:
		// B4, BA and BC acknowledgements need no answer.
	}
}

// keyStatus checks an unlock response and picks the AF status byte
func (c *Controller) keyStatus(ctx context.Context, frame []byte) byte {
	if c.config.KeyStatus != 0 {
		return c.config.KeyStatus
	}
	if len(frame) != 20 || protocol.ChecksumB(frame[5:]) != frame[4] {
		return protocol.KeyStatusBadKey
	}
	if frame[5] != c.config.Echo {
		return protocol.KeyStatusBadKey
	}
	next := protocol.NextNonce(c.config.Nonce)
	if frame[6] != byte(next>>8) || frame[7] != byte(next) {
		return protocol.KeyStatusBadNonce
	}
	if c.config.Oracle == nil {
		return protocol.KeyStatusAccepted
	}

	want, err := protocol.UnlockKey(ctx, c.config.Oracle, &protocol.UnlockRequest{
		Echo:  c.config.Echo,
		Nonce: c.config.Nonce,
		MAC:   *c.config.MAC,
	}, c.config.Name)
	if err != nil {
		logging.Warn("Simulator: oracle failed", zap.Error(err))
		return protocol.KeyStatusRejected
	}
	var got [4]byte
	copy(got[:], frame[8:12])
	if got != want {
		return protocol.KeyStatusBadKey
	}
	return protocol.KeyStatusAccepted
}

func (c *Controller) challenge() []byte {
	mac := *c.config.MAC
	return c.reply(protocol.TypeKeyChallenge, 0x00, c.config.Echo,
		byte(c.config.Nonce>>8), byte(c.config.Nonce), mac[0], mac[1])
}

// reply builds an inbound frame: FD FD 09 type, then body
func (c *Controller) reply(typ byte, body ...byte) []byte {
	return append([]byte{protocol.LeadByte, protocol.LeadByte, protocol.FrameMarker, typ}, body...)
}

// notify queues a frame for delivery with the configured quirks applied
func (c *Controller) notify(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.queue == nil {
		return
	}

	if c.config.LeakAT && !c.leaked {
		c.leaked = true
		c.enqueueLocked(atChatter)
	}

	if n := c.config.TruncateLead; n > 0 && n <= 2 {
		frame = frame[n:]
	}
	for i := 0; i <= c.config.Duplicates; i++ {
		c.enqueueLocked(frame)
	}
}

// Inject delivers frame to the subscriber as-is, without quirks
func (c *Controller) Inject(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.queue == nil {
		return
	}
	c.enqueueLocked(frame)
}

func (c *Controller) enqueueLocked(frame []byte) {
	select {
	case c.queue <- append([]byte(nil), frame...):
	default:
		logging.Warn("Simulator: notification queue full, dropping frame")
	}
}

// deliver hands queued notifications to the subscriber in order
func (c *Controller) deliver(queue <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-queue:
			c.mu.Lock()
			cb := c.onData
			c.mu.Unlock()
			if cb == nil {
				continue
			}
			c.notifications.Inc()
			logging.LogFrame("sim-tx", frame)
			cb(frame)
		}
	}
}

// macFromAddress returns the last two bytes of a colon-separated address
func macFromAddress(address string) [2]byte {
	var mac [2]byte
	b, err := protocol.ParseHex(address)
	if err != nil || len(b) < 2 {
		return mac
	}
	copy(mac[:], b[len(b)-2:])
	return mac
}
