package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/transport"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds operations that take no context
const DefaultRequestTimeout = 10 * time.Second

// ErrClosed is returned once the gateway connection is gone
var ErrClosed = errors.New("bridge connection closed")

// Client is a transport.Transport backed by a remote gateway.
type Client struct {
	conn           *websocket.Conn
	requestTimeout time.Duration
	pongWait       time.Duration

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu           sync.Mutex
	nextID       uint64
	pending      map[uint64]chan Message
	onBatch      func([]transport.Device)
	scanStop     chan struct{}
	onData       map[string]func([]byte)
	onDisconnect func(error)
	closed       bool
	done         chan struct{}
}

// DialOption configures a Client
type DialOption func(*Client)

// WithPongWait overrides DefaultPongWait
func WithPongWait(d time.Duration) DialOption {
	return func(c *Client) {
		if d > 0 {
			c.pongWait = d
		}
	}
}

// Dial connects to a gateway at rawURL (ws:// or wss://)
func Dial(ctx context.Context, rawURL string, requestTimeout time.Duration, opts ...DialOption) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported bridge URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge connection failed: %w", err)
	}

	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	c := &Client{
		conn:           conn,
		requestTimeout: requestTimeout,
		pongWait:       DefaultPongWait,
		pending:        make(map[uint64]chan Message),
		onData:         make(map[string]func([]byte)),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	go c.pingLoop()

	logging.Info("Connected to bridge", zap.String("url", rawURL))
	return c, nil
}

// readLoop routes gateway messages until the websocket fails or the
// gateway stops answering pings
func (c *Client) readLoop() {
	defer c.shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				logging.Warn("Ignoring malformed bridge message", zap.Error(err))
				continue
			}
			logging.Debug("Bridge read loop ended", zap.Error(err))
			return
		}
		c.route(msg)
	}
}

// pingLoop keeps the gateway's read deadline moving and ours answered
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod(c.pongWait))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.requestTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logging.Debug("Bridge ping failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) route(msg Message) {
	switch msg.Type {
	case TypeResult:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}

	case TypeScanBatch:
		c.mu.Lock()
		cb := c.onBatch
		c.mu.Unlock()
		if cb != nil {
			cb(fromDeviceInfo(msg.Devices))
		}

	case TypeScanDone:
		c.mu.Lock()
		stop := c.scanStop
		c.mu.Unlock()
		if stop != nil {
			c.closeStop(stop)
		}

	case TypeNotify:
		data, err := protocol.ParseHex(msg.Data)
		if err != nil {
			logging.Warn("Ignoring notification with bad hex", zap.String("data", msg.Data))
			return
		}
		c.mu.Lock()
		cb := c.onData[msg.Channel]
		c.mu.Unlock()
		if cb != nil {
			cb(data)
		}

	case TypeDisconnected:
		c.mu.Lock()
		cb := c.onDisconnect
		c.onDisconnect = nil
		c.mu.Unlock()
		if cb != nil {
			cb(fault.NewLinkError(fault.LinkDisconnected, errors.New(orDefault(msg.Error, "connection lost"))))
		}

	default:
		logging.Debug("Ignoring unknown bridge message", zap.String("type", msg.Type))
	}
}

// shutdown fails every pending request and reports the lost link
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.pending {
		ch <- Message{Type: TypeResult, ID: id, Error: ErrClosed.Error()}
		delete(c.pending, id)
	}
	cb := c.onDisconnect
	c.onDisconnect = nil
	stop := c.scanStop
	c.mu.Unlock()

	if stop != nil {
		c.closeStop(stop)
	}
	if cb != nil {
		cb(fault.NewLinkError(fault.LinkDisconnected, ErrClosed))
	}
}

// call sends req and waits for its result
func (c *Client) call(ctx context.Context, kind fault.LinkKind, req Request) error {
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fault.NewLinkError(kind, ErrClosed)
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = reply
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.forget(req.ID)
		return fault.NewLinkError(kind, err)
	}

	select {
	case msg := <-reply:
		if msg.Error != "" {
			return fault.NewLinkError(kind, errors.New(msg.Error))
		}
		return nil
	case <-ctx.Done():
		c.forget(req.ID)
		return fault.NewLinkError(kind, ctx.Err())
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.requestTimeout))
	return c.conn.WriteJSON(req)
}

func (c *Client) closeStop(stop chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-stop:
	default:
		close(stop)
	}
}

func (c *Client) timeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.requestTimeout)
}

// Scan implements transport.Transport
func (c *Client) Scan(ctx context.Context, filter transport.Filter, onBatch func([]transport.Device)) error {
	stop := make(chan struct{})
	c.mu.Lock()
	if c.scanStop != nil {
		c.mu.Unlock()
		return fault.NewLinkError(fault.LinkScan, errors.New("scan already in progress"))
	}
	c.scanStop = stop
	c.onBatch = onBatch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.scanStop = nil
		c.onBatch = nil
		c.mu.Unlock()
	}()

	if err := c.call(ctx, fault.LinkScan, Request{Op: OpScan, Name: filter.Name, Address: filter.Address}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-stop:
	case <-c.done:
		return fault.NewLinkError(fault.LinkScan, ErrClosed)
	}

	stopCtx, cancel := c.timeoutContext()
	defer cancel()
	if err := c.call(stopCtx, fault.LinkScan, Request{Op: OpStopScan}); err != nil {
		logging.Debug("Bridge stop_scan failed", zap.Error(err))
	}
	return nil
}

// StopScan implements transport.Transport
func (c *Client) StopScan() error {
	c.mu.Lock()
	stop := c.scanStop
	c.mu.Unlock()
	if stop != nil {
		c.closeStop(stop)
	}
	return nil
}

// Connect implements transport.Transport
func (c *Client) Connect(ctx context.Context, address string, onDisconnect func(error)) error {
	c.mu.Lock()
	c.onDisconnect = onDisconnect
	c.mu.Unlock()

	if err := c.call(ctx, fault.LinkConnect, Request{Op: OpConnect, Address: address}); err != nil {
		c.mu.Lock()
		c.onDisconnect = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect implements transport.Transport
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.onDisconnect = nil
	c.onData = make(map[string]func([]byte))
	c.mu.Unlock()

	ctx, cancel := c.timeoutContext()
	defer cancel()
	return c.call(ctx, fault.LinkDisconnected, Request{Op: OpDisconnect})
}

// Send implements transport.Transport
func (c *Client) Send(ctx context.Context, ch transport.Channel, data []byte) error {
	return c.call(ctx, fault.LinkWrite, Request{Op: OpWrite, Channel: string(ch), Data: protocol.HexString(data)})
}

// Subscribe implements transport.Transport
func (c *Client) Subscribe(ctx context.Context, ch transport.Channel, onData func([]byte)) error {
	c.mu.Lock()
	c.onData[string(ch)] = onData
	c.mu.Unlock()
	return c.call(ctx, fault.LinkSubscribe, Request{Op: OpSubscribe, Channel: string(ch)})
}

// Close closes the gateway connection
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
