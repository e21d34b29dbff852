package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/transport"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Outbound messages queued per client before callbacks wait
	sendQueue = 64
)

// ServerConfig holds the gateway configuration
type ServerConfig struct {
	Host      string
	Port      int
	Path      string // websocket endpoint, DefaultPath when empty
	Advertise bool   // register the gateway over mDNS
	Instance  string // mDNS instance name, host name when empty
	Version   string // advertised in the TXT record

	// PongWait drops a client that stops answering pings, DefaultPongWait
	// when zero
	PongWait time.Duration
}

// Server exposes a local transport to one remote client at a time
type Server struct {
	config    *ServerConfig
	transport transport.Transport
	upgrader  websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	mdns       *zeroconf.Server

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*websocket.Conn
}

// NewServer creates a gateway serving t
func NewServer(config *ServerConfig, t transport.Transport) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.PongWait <= 0 {
		config.PongWait = DefaultPongWait
	}
	return &Server{
		config:      config,
		transport:   t,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		activeConns: make(map[string]*websocket.Conn),
	}
}

// Handler returns the HTTP handler serving the websocket endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWS)
	return mux
}

// Start listens, optionally advertises, and blocks until ctx is done,
// a shutdown signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	logging.Info("Starting bridge gateway",
		zap.String("addr", addr),
		zap.String("path", s.config.Path),
	)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	if s.config.Advertise {
		if err := s.advertise(listener.Addr().(*net.TCPAddr).Port); err != nil {
			logging.Warn("mDNS advertisement failed, gateway reachable by URL only", zap.Error(err))
		}
	}

	logging.Info("Gateway listening for connections", zap.String("addr", listener.Addr().String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping gateway...")
		return s.Shutdown(context.Background())
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

func (s *Server) advertise(port int) error {
	instance := s.config.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "waterctl"
		}
		instance = host
	}
	txt := []string{"path=" + s.config.Path}
	if s.config.Version != "" {
		txt = append(txt, "version="+s.config.Version)
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return err
	}
	s.mdns = server
	logging.Info("Advertising gateway over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return nil
}

// Shutdown gracefully shuts down the gateway
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down gateway...")

	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Close(); err != nil {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	s.mu.Lock()
	for addr, conn := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	case <-time.After(10 * time.Second):
		logging.Warn("Shutdown timeout after 10 seconds, forcing close")
	}

	logging.Sync()
	return nil
}

// GetActiveConnections returns the number of active connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// serveWS upgrades the request. The radio serves a single client, so a
// second client is turned away while one is attached.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	busy := len(s.activeConns) > 0
	s.mu.Unlock()
	if busy {
		http.Error(w, "gateway busy", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("Websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	remoteAddr := r.RemoteAddr
	s.mu.Lock()
	if len(s.activeConns) > 0 {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "gateway busy"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	s.activeConns[remoteAddr] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		s.wg.Done()
		logging.Info("Bridge client disconnected", zap.String("remote_addr", remoteAddr))
	}()

	logging.Info("Bridge client connected", zap.String("remote_addr", remoteAddr))
	newSession(conn, s.transport, s.config.PongWait).run()
}

// session serves one websocket client
type session struct {
	conn      *websocket.Conn
	transport transport.Transport
	pongWait  time.Duration
	out       chan Message
	done      chan struct{}

	mu         sync.Mutex
	scanCancel context.CancelFunc
	linkCtx    context.Context
	linkCancel context.CancelFunc
	connected  bool
}

func newSession(conn *websocket.Conn, t transport.Transport, pongWait time.Duration) *session {
	linkCtx, linkCancel := context.WithCancel(context.Background())
	return &session{
		conn:       conn,
		transport:  t,
		pongWait:   pongWait,
		out:        make(chan Message, sendQueue),
		done:       make(chan struct{}),
		linkCtx:    linkCtx,
		linkCancel: linkCancel,
	}
}

func (ss *session) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ss.writeLoop()
	}()

	ss.conn.SetReadLimit(maxMessageSize)
	_ = ss.conn.SetReadDeadline(time.Now().Add(ss.pongWait))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(ss.pongWait))
	})
	for {
		var req Request
		if err := ss.conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Bridge read ended", zap.Error(err))
			}
			break
		}
		ss.handle(req)
	}

	ss.teardown()
	close(ss.done)
	<-writerDone
}

func (ss *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod(ss.pongWait))
	defer ticker.Stop()

	for {
		select {
		case msg := <-ss.out:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteJSON(msg); err != nil {
				logging.Debug("Bridge write failed", zap.Error(err))
				_ = ss.conn.Close()
				return
			}
		case <-ticker.C:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logging.Debug("Bridge ping failed", zap.Error(err))
				_ = ss.conn.Close()
				return
			}
		case <-ss.done:
			return
		}
	}
}

// send queues msg unless the client is gone
func (ss *session) send(msg Message) {
	select {
	case ss.out <- msg:
	case <-ss.done:
	}
}

func (ss *session) reply(id uint64, err error) {
	msg := Message{Type: TypeResult, ID: id}
	if err != nil {
		msg.Error = err.Error()
	}
	ss.send(msg)
}

func (ss *session) handle(req Request) {
	logging.Debug("Bridge request", zap.Uint64("id", req.ID), zap.String("op", req.Op))

	switch req.Op {
	case OpScan:
		ss.startScan(req)

	case OpStopScan:
		ss.mu.Lock()
		cancel := ss.scanCancel
		ss.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		ss.reply(req.ID, ss.transport.StopScan())

	case OpConnect:
		ss.mu.Lock()
		ctx := ss.linkCtx
		ss.mu.Unlock()
		go func() {
			err := ss.transport.Connect(ctx, req.Address, func(err error) {
				ss.mu.Lock()
				ss.connected = false
				ss.mu.Unlock()
				msg := Message{Type: TypeDisconnected}
				if err != nil {
					msg.Error = err.Error()
				}
				ss.send(msg)
			})
			if err == nil {
				ss.mu.Lock()
				ss.connected = true
				ss.mu.Unlock()
			}
			ss.reply(req.ID, err)
		}()

	case OpDisconnect:
		ss.mu.Lock()
		ss.linkCancel()
		ss.linkCtx, ss.linkCancel = context.WithCancel(context.Background())
		ss.connected = false
		ss.mu.Unlock()
		ss.reply(req.ID, ss.transport.Disconnect())

	case OpWrite:
		data, err := protocol.ParseHex(req.Data)
		if err != nil {
			ss.reply(req.ID, err)
			return
		}
		ctx, cancel := context.WithTimeout(ss.linkCtx, writeWait)
		defer cancel()
		ss.reply(req.ID, ss.transport.Send(ctx, transport.Channel(req.Channel), data))

	case OpSubscribe:
		channel := req.Channel
		ctx, cancel := context.WithTimeout(ss.linkCtx, writeWait)
		defer cancel()
		err := ss.transport.Subscribe(ctx, transport.Channel(channel), func(data []byte) {
			ss.send(Message{Type: TypeNotify, Channel: channel, Data: protocol.HexString(data)})
		})
		ss.reply(req.ID, err)

	default:
		ss.reply(req.ID, fmt.Errorf("unknown op %q", req.Op))
	}
}

func (ss *session) startScan(req Request) {
	ss.mu.Lock()
	if ss.scanCancel != nil {
		ss.mu.Unlock()
		ss.reply(req.ID, errors.New("scan already in progress"))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ss.scanCancel = cancel
	ss.mu.Unlock()

	// The result goes out before the first batch so the client is ready for it.
	ss.reply(req.ID, nil)

	filter := transport.Filter{Name: req.Name, Address: req.Address}
	go func() {
		defer func() {
			cancel()
			ss.mu.Lock()
			ss.scanCancel = nil
			ss.mu.Unlock()
		}()

		err := ss.transport.Scan(ctx, filter, func(devices []transport.Device) {
			ss.send(Message{Type: TypeScanBatch, Devices: toDeviceInfo(devices)})
		})
		msg := Message{Type: TypeScanDone}
		if err != nil {
			msg.Error = err.Error()
		}
		ss.send(msg)
	}()
}

// teardown releases the radio when the client leaves
func (ss *session) teardown() {
	ss.mu.Lock()
	cancel := ss.scanCancel
	ss.linkCancel()
	connected := ss.connected
	ss.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = ss.transport.StopScan()
	}
	if connected {
		if err := ss.transport.Disconnect(); err != nil {
			logging.Warn("Failed to release controller link", zap.Error(err))
		}
	}
}
