package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/looplab/fsm"
	"github.com/waterctl/waterctl/internal/config"
	"github.com/waterctl/waterctl/internal/dedup"
	"github.com/waterctl/waterctl/internal/fault"
	"github.com/waterctl/waterctl/internal/logging"
	"github.com/waterctl/waterctl/internal/protocol"
	"github.com/waterctl/waterctl/internal/reconnect"
	"github.com/waterctl/waterctl/internal/timers"
	"github.com/waterctl/waterctl/internal/transport"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Timer names
const (
	timerStartEpilogue = "startEpilogueDelay"
	timerHandshake     = "handshakeTimeout"
	timerOperation     = "operationTimeout"
	timerReconnect     = "reconnectDelay"
	timerScanWatchdog  = "scanWatchdog"
)

const inboxSize = 256

// ErrStopped is returned by Run when the session was already run
var ErrStopped = errors.New("session already stopped")

// Session is one controller binding. Create it with New and drive it with
// Run; the remaining methods may be called from any goroutine.
type Session struct {
	cfg       *config.Config
	transport transport.Transport
	oracle    protocol.KeyDerivationOracle
	clock     timers.Clock
	rand      *rand.Rand
	observer  Observer
	logger    *zap.Logger
	diag      *logging.Diagnostics

	inbox   chan func()
	done    chan struct{}
	started *atomic.Bool
	state   *atomic.Int32

	// Owned by the Run goroutine.
	runCtx    context.Context
	machine   *fsm.FSM
	timers    *timers.Supervisor
	reconnect *reconnect.Supervisor
	dedup     *dedup.Filter
	gen       uint64
	opCancel  context.CancelFunc
	linked    bool
	active    bool
}

// Option configures a Session
type Option func(*Session)

// WithClock injects the clock used for timers and the start-epilogue time
func WithClock(c timers.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRand injects the random source for user ids
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rand = r }
}

// WithObserver sets the event observer
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithLogger sets the base logger. Session entries are also recorded in the
// diagnostics transcript.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session for cfg over t. oracle may be nil for controllers
// that never send a key challenge.
func New(cfg *config.Config, t transport.Transport, oracle protocol.KeyDerivationOracle, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		transport: t,
		oracle:    oracle,
		clock:     timers.SystemClock{},
		observer:  ObserverFuncs{},
		diag:      logging.NewDiagnostics(cfg.Session.DiagnosticsLimit),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
		started:   atomic.NewBool(false),
		state:     atomic.NewInt32(int32(Standby)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	}
	if s.logger == nil {
		s.logger = logging.NewSessionLogger(s.diag)
	} else {
		s.logger = zap.New(zapcore.NewTee(s.logger.Core(), s.diag.Core(zapcore.DebugLevel)))
	}

	s.machine = newMachine()
	s.timers = timers.NewSupervisor(s.clock, func(e timers.Expiry) {
		s.post(func() { s.timers.Expire(e) })
	})
	s.reconnect = reconnect.NewSupervisor(cfg.ReconnectPolicy(), s.clock)
	s.dedup = dedup.New(cfg.Session.DedupThreshold, cfg.Session.DedupTTL, s.clock)
	return s
}

// State returns the current stage
func (s *Session) State() State {
	return State(s.state.Load())
}

// Diagnostics returns the session transcript
func (s *Session) Diagnostics() *logging.Diagnostics {
	return s.diag
}

// Start begins a session from Standby
func (s *Session) Start() {
	s.post(s.start)
}

// End asks the controller to stop the water
func (s *Session) End() {
	s.post(s.end)
}

// Disconnect abandons whatever is in flight and returns to Standby without
// an automatic reconnect
func (s *Session) Disconnect() {
	s.post(s.disconnect)
}

// Toggle is the single-button action: End when Ready, Start when Standby
func (s *Session) Toggle() {
	s.post(func() {
		switch s.State() {
		case Ready:
			s.end()
		case Standby:
			s.start()
		default:
			s.logger.Debug("Toggle ignored", zap.Stringer("state", s.State()))
		}
	})
}

// Quality returns the advisory link health
func (s *Session) Quality() reconnect.Quality {
	reply := make(chan reconnect.Quality, 1)
	if !s.post(func() { reply <- s.reconnect.Quality() }) {
		return reconnect.Quality{}
	}
	select {
	case q := <-reply:
		return q
	case <-s.done:
		return reconnect.Quality{}
	}
}

// Run processes session events until ctx is done. The link is released on
// the way out.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStopped
	}
	s.runCtx = ctx
	defer close(s.done)

	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		}
	}
}

// post hands fn to the Run goroutine. It reports false once Run has exited.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) start() {
	if st := s.State(); st != Standby {
		s.logger.Debug("Start ignored", zap.Stringer("state", st))
		return
	}
	s.reconnect.Reset()
	s.timers.CancelAll()
	s.dedup.Clear()
	s.diag.Clear()
	s.logger.Info("Starting session",
		zap.String("device", s.cfg.Device.Name),
		zap.String("address", s.cfg.Device.Address),
	)
	s.beginScan(eventStart)
}

// beginScan enters Scanning and looks for the configured controller. The
// scan watchdog ends the scan on the session clock whatever the transport
// does.
func (s *Session) beginScan(event string) {
	if !s.transition(event) {
		return
	}
	g := s.nextGeneration()
	ctx, cancel := context.WithCancel(s.runCtx)
	s.opCancel = cancel

	s.timers.Schedule(timerScanWatchdog, s.cfg.Session.ScanTimeout, func() {
		if s.State() != Scanning {
			return
		}
		s.logger.Info("Scan timed out", zap.Duration("timeout", s.cfg.Session.ScanTimeout))
		s.stopScan()
		s.fail(fault.ErrDeviceNotFound)
	})

	filter := s.cfg.Filter()
	go func() {
		err := s.transport.Scan(ctx, filter, func(devices []transport.Device) {
			s.post(func() { s.onScanBatch(g, devices) })
		})
		s.post(func() { s.onScanDone(g, err) })
	}()
}

func (s *Session) onScanBatch(g uint64, devices []transport.Device) {
	if g != s.gen || s.State() != Scanning {
		return
	}
	filter := s.cfg.Filter()
	for _, d := range devices {
		if !filter.Match(d) {
			continue
		}
		s.logger.Info("Controller found",
			zap.String("name", d.Name),
			zap.String("address", d.Address),
			zap.Int16("rssi", d.RSSI),
		)
		s.timers.Cancel(timerScanWatchdog)
		s.stopScan()
		s.beginConnect(d)
		return
	}
}

func (s *Session) onScanDone(g uint64, err error) {
	if g != s.gen || s.State() != Scanning {
		return
	}
	s.timers.Cancel(timerScanWatchdog)
	if err != nil {
		s.fail(asLinkError(fault.LinkScan, err))
		return
	}
	s.fail(fault.ErrDeviceNotFound)
}

func (s *Session) stopScan() {
	s.cancelOp()
	if err := s.transport.StopScan(); err != nil {
		s.logger.Debug("Stop scan failed", zap.Error(err))
	}
}

func (s *Session) beginConnect(d transport.Device) {
	if !s.transition(eventFound) {
		return
	}
	g := s.nextGeneration()
	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.Session.HandshakeTimeout)
	s.opCancel = cancel

	go func() {
		err := s.transport.Connect(ctx, d.Address, func(err error) {
			s.post(func() { s.onLinkLost(g, err) })
		})
		s.post(func() { s.onConnected(g, err) })
	}()
}

func (s *Session) onConnected(g uint64, err error) {
	if g != s.gen || s.State() != Connecting {
		// A stale attempt that still got through holds the radio; drop it
		// unless a newer link owns the transport.
		if err == nil && !s.linked {
			s.logger.Debug("Releasing link from an abandoned connect", zap.Stringer("state", s.State()))
			if err := s.transport.Disconnect(); err != nil {
				s.logger.Debug("Disconnect failed", zap.Error(err))
			}
		}
		return
	}
	s.cancelOp()
	if err != nil {
		s.fail(asLinkError(fault.LinkConnect, err))
		return
	}

	s.linked = true
	if !s.transition(eventLinked) {
		return
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.Session.OperationTimeout)
	defer cancel()
	err = s.transport.Subscribe(ctx, transport.RXD, func(data []byte) {
		frame := append([]byte(nil), data...)
		s.post(func() { s.onData(g, frame) })
	})
	if err != nil {
		s.fail(asLinkError(fault.LinkSubscribe, err))
		return
	}

	if err := s.write(protocol.StartPrologue()); err != nil {
		s.fail(err)
		return
	}
	if !s.transition(eventPrologue) {
		return
	}
	s.timers.Schedule(timerHandshake, s.cfg.Session.HandshakeTimeout, func() {
		if st := s.State(); st == Connected || st == AwaitingHandshake {
			s.fail(fault.ErrHandshakeTimeout)
		}
	})
}

func (s *Session) onLinkLost(g uint64, err error) {
	if g != s.gen || (!s.State().Linked() && s.State() != Connecting) {
		return
	}
	s.linked = false
	if err == nil {
		err = errors.New("connection lost")
	}
	s.fail(asLinkError(fault.LinkDisconnected, err))
}

func (s *Session) onData(g uint64, raw []byte) {
	if g != s.gen || !s.State().Linked() {
		return
	}
	s.logger.Debug("RXD: " + protocol.HexString(raw))

	if n := s.dedup.Sweep(); n > 0 {
		s.logger.Debug("Expired duplicate keys", zap.Int("count", n))
	}
	if !s.dedup.ShouldProcess(raw) {
		s.logger.Debug("Duplicate frame suppressed", zap.Int("count", s.dedup.Count(raw)))
		return
	}

	outcome, pkt, err := protocol.Normalize(raw)
	if err != nil {
		s.fail(err)
		return
	}
	switch outcome {
	case protocol.Ignore:
		s.logger.Debug("Ignoring modem chatter")
		return
	case protocol.Incomplete:
		s.logger.Debug("Ignoring incomplete frame")
		return
	}
	s.dispatch(pkt)
}

// dispatch acts on one decoded frame. Known types that arrive in the wrong
// stage are logged and dropped.
func (s *Session) dispatch(pkt *protocol.Packet) {
	st := s.State()
	outOfPhase := func() {
		s.logger.Debug("Ignoring out-of-phase frame",
			zap.String("type", protocol.GetPacketTypeName(pkt.Type)),
			zap.Stringer("state", st),
		)
	}

	switch pkt.Type {
	case protocol.TypeStatusPrevious, protocol.TypeStatusPrevious2:
		if st != AwaitingHandshake {
			outOfPhase()
			return
		}
		// Legacy firmware may send both; the epilogue goes out once they stop.
		s.timers.Reschedule(timerStartEpilogue, s.cfg.Session.StartEpilogueDelay, func() {
			s.sendStartEpilogue(false)
		})

	case protocol.TypeKeyChallenge:
		if st != AwaitingHandshake {
			outOfPhase()
			return
		}
		s.timers.Cancel(timerStartEpilogue)
		s.answerChallenge(pkt)

	case protocol.TypeKeyResult:
		if st != AwaitingHandshake {
			outOfPhase()
			return
		}
		s.onKeyResult(pkt)

	case protocol.TypeStarted:
		if st != AwaitingHandshake {
			outOfPhase()
			return
		}
		s.timers.CancelAll()
		s.active = true
		s.reconnect.Succeeded()
		if s.transition(eventUnlocked) {
			s.logger.Info("Water session started")
			s.observer.SessionReady()
		}

	case protocol.TypeEnded:
		if st != Ending {
			outOfPhase()
			return
		}
		s.timers.Cancel(timerOperation)
		if err := s.write(protocol.EndEpilogue()); err != nil {
			s.logger.Warn("End epilogue not delivered", zap.Error(err))
		}
		s.active = false
		s.releaseLink()
		if s.transition(eventEnded) {
			s.logger.Info("Water session ended")
			s.observer.SessionEnded()
		}

	case protocol.TypeUserInfo:
		if err := s.write(protocol.BAAck()); err != nil {
			s.fail(err)
		}

	case protocol.TypeOfflineSession:
		if err := s.write(protocol.OfflinebombFix()); err != nil {
			s.fail(err)
		}

	case protocol.TypeRefused:
		s.fail(fault.NewRefused(pkt.Payload))

	case protocol.TypeTelemetry:
		s.logger.Info("Telemetry", zap.String("data", protocol.HexString(pkt.Payload)))

	default:
		s.fail(fault.NewUnknownData(pkt.Payload, pkt.Type, "unknown packet type"))
	}
}

func (s *Session) answerChallenge(pkt *protocol.Packet) {
	// Fields come from the corrected frame, not the raw notification, so a
	// challenge that lost its lead bytes on the air still yields the right
	// echo, nonce and MAC.
	req, err := protocol.ParseUnlockRequest(pkt)
	if err != nil {
		s.fail(err)
		return
	}
	s.logger.Debug("Key challenge", zap.Stringer("request", req))

	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.Session.OperationTimeout)
	defer cancel()
	key, err := protocol.UnlockKey(ctx, s.oracle, req, s.cfg.Device.Name)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.write(protocol.BuildUnlockResponse(req, key)); err != nil {
		s.fail(err)
	}
}

// onKeyResult handles AF. An unexpected status still gets the epilogue
// before the session reports the unknown status, as the firmware expects.
func (s *Session) onKeyResult(pkt *protocol.Packet) {
	// The status is byte 5 of the corrected frame; on a truncated
	// notification the raw byte 5 would be the one after it.
	status, err := protocol.KeyResultStatus(pkt)
	if err != nil {
		s.fail(err)
		return
	}
	switch {
	case status == protocol.KeyStatusAccepted:
		s.sendStartEpilogue(true)
	case protocol.IsBadKeyStatus(status):
		s.fail(fault.NewBadKey(pkt.Payload, status))
	default:
		if !s.sendStartEpilogue(true) {
			return
		}
		s.fail(fault.NewUnknownData(pkt.Payload, pkt.Type, fmt.Sprintf("unexpected key status 0x%02X", status)))
	}
}

// sendStartEpilogue reports whether the session is still alive afterwards
func (s *Session) sendStartEpilogue(keyAuth bool) bool {
	if s.State() != AwaitingHandshake {
		return false
	}
	frame, err := protocol.StartEpilogue{
		DeviceName: s.cfg.Device.Name,
		KeyAuth:    keyAuth,
		UserID:     protocol.RandomUserID(s.rand),
		Time:       s.clock.Now(),
	}.Build()
	if err == nil {
		err = s.write(frame)
	}
	if err != nil {
		s.fail(err)
		return false
	}
	return true
}

func (s *Session) end() {
	if st := s.State(); st != Ready {
		s.logger.Debug("End ignored", zap.Stringer("state", st))
		return
	}
	if err := s.write(protocol.EndPrologue()); err != nil {
		s.fail(err)
		return
	}
	if !s.transition(eventEnd) {
		return
	}
	s.timers.Schedule(timerOperation, s.cfg.Session.OperationTimeout, func() {
		if s.State() == Ending {
			s.fail(fault.ErrOperationTimeout)
		}
	})
}

// write sends frame on TXD with bounded retry
func (s *Session) write(frame []byte) error {
	attempts := s.cfg.Session.WriteAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.Session.OperationTimeout)
		err = s.transport.Send(ctx, transport.TXD, frame)
		cancel()
		if err == nil {
			s.logger.Debug("TXD: " + protocol.HexString(frame))
			return nil
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("Write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-time.After(time.Duration(attempt) * s.cfg.Session.WriteBackoff):
		case <-s.runCtx.Done():
			return asLinkError(fault.LinkWrite, s.runCtx.Err())
		}
	}
	return asLinkError(fault.LinkWrite, err)
}

// fail classifies err, reports it and either schedules a reconnect or
// settles in Standby
func (s *Session) fail(err error) {
	verdict := fault.Classify(err)
	s.logger.Error("Session failed",
		zap.Stringer("category", verdict.Category),
		zap.Stringer("state", s.State()),
		zap.Strings("pending_timers", s.timers.Names()),
		zap.Error(err),
	)

	var diagnostics []string
	if verdict.ShowDiagnostics {
		diagnostics = s.diag.Lines()
	}

	s.timers.CancelAll()
	s.cancelOp()
	s.releaseLink()
	s.dedup.Clear()
	s.active = false
	s.reconnect.RecordFailure()

	if !s.transition(eventFail) {
		return
	}
	s.observer.FatalError(verdict, diagnostics)

	if verdict.Retryable {
		if delay, ok := s.reconnect.Next(); ok {
			s.logger.Info("Reconnecting",
				zap.Int("attempt", s.reconnect.Attempts()),
				zap.Duration("delay", delay),
			)
			s.timers.Schedule(timerReconnect, delay, func() {
				if s.State() == Error {
					s.beginScan(eventRetry)
				}
			})
			return
		}
	}
	s.transition(eventSettle)
}

func (s *Session) disconnect() {
	s.logger.Info("Disconnect requested", zap.Stringer("state", s.State()))
	s.reconnect.MarkManual()
	s.timers.CancelAll()
	s.dedup.Clear()
	s.cancelOp()
	if s.State() == Scanning {
		s.stopScan()
	}
	s.releaseLink()
	s.active = false
	if s.State() != Standby {
		s.transition(eventAbort)
	}
	s.diag.Clear()
}

// shutdown releases everything when Run exits
func (s *Session) shutdown() {
	if s.active {
		s.logger.Warn("Leaving while the water is on; the controller stops it when its own timer runs out")
	}
	s.timers.CancelAll()
	s.cancelOp()
	if s.State() == Scanning {
		_ = s.transport.StopScan()
	}
	s.releaseLink()
	logging.Sync()
}

// releaseLink drops the radio link and invalidates callbacks tagged with
// the current generation. A connect still in flight is torn down too.
func (s *Session) releaseLink() {
	s.nextGeneration()
	if !s.linked && !s.State().Linked() && s.State() != Connecting {
		return
	}
	s.linked = false
	if err := s.transport.Disconnect(); err != nil {
		s.logger.Debug("Disconnect failed", zap.Error(err))
	}
}

func (s *Session) cancelOp() {
	if s.opCancel != nil {
		s.opCancel()
		s.opCancel = nil
	}
}

func (s *Session) nextGeneration() uint64 {
	s.gen++
	return s.gen
}

// transition fires event and publishes the new state. A rejected event is
// a session bug; it is logged and the state is left alone.
func (s *Session) transition(event string) bool {
	from := s.State()
	to, err := fire(s.machine, event)
	if err != nil {
		s.logger.Error("Invalid state transition", zap.Error(err))
		return false
	}
	if to == from {
		return true
	}
	s.state.Store(int32(to))
	logging.LogStateChange(from.String(), to.String())
	s.logger.Debug("Stage " + to.String())
	s.observer.StageChanged(to)
	return true
}

// asLinkError wraps err as a link failure unless it is already typed
func asLinkError(kind fault.LinkKind, err error) error {
	var le *fault.LinkError
	var pe *fault.ProtocolError
	if errors.As(err, &le) || errors.As(err, &pe) {
		return err
	}
	return fault.NewLinkError(kind, err)
}
