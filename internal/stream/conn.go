// ABOUTME: Connection manager for the streaming WebSocket transport.
// ABOUTME: Owns dial/read lifecycle, keep-alive, capped backoff, and the disable threshold.

package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateDisabled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the externally visible connection signal.
type Status struct {
	Connected bool
	Attempt   int
	Disabled  bool
}

// ErrNotConnected indicates a send while the stream is not open. Callers
// fall back to the request channel; the failure is never fatal.
var ErrNotConnected = errors.New("stream not connected")

// ErrDisabled indicates the manager hit the disable threshold and will make
// no further network attempt until an explicit Reset.
var ErrDisabled = errors.New("stream disabled after repeated failures")

// ErrShutDown indicates the manager was cleanly shut down.
var ErrShutDown = errors.New("stream manager shut down")

// Options configures the connection manager.
type Options struct {
	URL string

	KeepAliveInterval time.Duration
	HandshakeTimeout  time.Duration

	// Backoff: delay(n) = min(MaxDelay, BaseDelay × Growth^n).
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Growth    float64

	// Consecutive failures before the manager disables itself.
	MaxAttemptsBeforeDisable int
}

func (o *Options) withDefaults() {
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Growth < 1 {
		o.Growth = 2
	}
	if o.MaxAttemptsBeforeDisable <= 0 {
		o.MaxAttemptsBeforeDisable = 5
	}
}

// wireConn is the subset of *websocket.Conn the manager uses. Tests inject
// scripted implementations through the dial function.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wireConn, error)

// Manager owns one persistent streaming connection. Failures toggle the
// connected signal and drive reconnection; they are never surfaced as fatal
// errors to callers.
type Manager struct {
	opts   Options
	logger *slog.Logger
	dial   dialFunc

	handler func(Inbound)
	status  func(Status)
	symbols func() []string

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           wireConn
	state          State
	attempt        int
	gen            uint64
	closed         bool
	reconnectTimer *time.Timer
	keepAliveStop  chan struct{}
}

// NewManager creates a manager for the given endpoint. Pass nil logger for
// default. The manager is inert until Open is called.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	opts.withDefaults()
	m := &Manager{
		opts:   opts,
		logger: logger.With("component", "stream"),
		state:  StateIdle,
	}
	m.dial = m.dialWebSocket
	return m
}

func (m *Manager) dialWebSocket(ctx context.Context, url string) (wireConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OnEvent registers the inbound event handler. Must be set before Open.
// Keep-alive acknowledgements are swallowed by the manager and never reach
// the handler.
func (m *Manager) OnEvent(handler func(Inbound)) {
	m.handler = handler
}

// OnStatus registers a callback for connected/attempt/disabled transitions.
func (m *Manager) OnStatus(fn func(Status)) {
	m.status = fn
}

// SymbolProvider registers the watched-symbol snapshot carried by the init
// event on every successful open.
func (m *Manager) SymbolProvider(fn func() []string) {
	m.symbols = fn
}

// Connected reports whether the stream is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen
}

// Snapshot returns the current connection status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Status {
	return Status{
		Connected: m.state == StateOpen,
		Attempt:   m.attempt,
		Disabled:  m.state == StateDisabled,
	}
}

// Open establishes the streaming connection. While Disabled, no network
// attempt is made and ErrDisabled is returned until Reset is called. A failed
// dial schedules a capped-backoff reconnect (or disables the manager at the
// threshold) and returns the dial error for logging.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutDown
	}
	switch m.state {
	case StateDisabled:
		m.mu.Unlock()
		return ErrDisabled
	case StateOpen, StateConnecting:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	url := m.opts.URL
	m.mu.Unlock()

	conn, err := m.dial(ctx, url)
	if err != nil {
		m.logger.Warn("stream dial failed", "url", url, "error", err)
		m.handleFailure()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrShutDown
	}
	m.conn = conn
	m.state = StateOpen
	m.attempt = 0
	m.gen++
	gen := m.gen
	stop := make(chan struct{})
	m.keepAliveStop = stop
	m.mu.Unlock()

	m.logger.Info("stream connected", "url", url)
	m.notifyStatus()

	// Announce the watched-symbol set so the remote side re-synchronizes
	// anything mutated while the stream was down.
	var symbols []string
	if m.symbols != nil {
		symbols = m.symbols()
	}
	if err := m.Send(Init{Symbols: symbols}); err != nil {
		m.logger.Warn("init event failed", "error", err)
	}

	go m.readLoop(gen, conn)
	go m.keepAliveLoop(gen, stop)

	return nil
}

// Send transmits a typed event if the stream is open, else fails with
// ErrNotConnected and the caller must fall back.
func (m *Manager) Send(ev Outbound) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	data, err := Encode(ev)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop delivers inbound frames in arrival order until the connection
// drops. The generation guard keeps a superseded loop from driving state.
func (m *Manager) readLoop(gen uint64, conn wireConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}

		ev, err := DecodeInbound(data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		if _, ok := ev.(*KeepAliveAck); ok {
			// Protocol-internal; never surfaces as a conversation message.
			continue
		}

		if m.handler != nil {
			m.handler(ev)
		}
	}
}

// keepAliveLoop emits liveness frames at a fixed interval, independent of
// business traffic, while the connection stays open.
func (m *Manager) keepAliveLoop(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			stale := m.gen != gen || m.state != StateOpen
			m.mu.Unlock()
			if stale {
				return
			}
			if err := m.Send(KeepAlive{}); err != nil {
				m.logger.Debug("keep-alive send failed", "error", err)
			}
		}
	}
}

// connectionLost handles an unexpected close of the current connection.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.stopKeepAliveLocked()
	m.mu.Unlock()

	m.logger.Warn("stream connection lost", "error", cause)
	m.handleFailure()
}

// handleFailure increments the attempt counter and either schedules a
// reconnect or crosses the disable threshold.
func (m *Manager) handleFailure() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempt++

	if m.attempt >= m.opts.MaxAttemptsBeforeDisable {
		m.state = StateDisabled
		m.mu.Unlock()
		m.logger.Warn("stream disabled after repeated failures",
			"attempts", m.opts.MaxAttemptsBeforeDisable)
		m.notifyStatus()
		return
	}

	m.state = StateReconnecting
	delay := Delay(m.attempt, m.opts.BaseDelay, m.opts.MaxDelay, m.opts.Growth)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		if m.closed || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateIdle
		m.mu.Unlock()

		if err := m.Open(context.Background()); err != nil {
			m.logger.Debug("reconnect attempt failed", "error", err)
		}
	})
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.Info("stream reconnect scheduled", "attempt", attempt, "delay", delay)
	m.notifyStatus()
}

// Reset clears the attempt counter and re-arms a Disabled manager. This is
// the explicit external reset (the page-reload equivalent); the manager
// never re-probes on its own once disabled.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempt = 0
	if m.state == StateDisabled {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.notifyStatus()
}

// Shutdown closes the connection cleanly and cancels all pending timers.
// A clean close never triggers reconnection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = StateClosed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopKeepAliveLocked()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		conn.Close()
	}

	m.logger.Info("stream shut down")
	m.notifyStatus()
}

// stopKeepAliveLocked stops the keep-alive loop. Must be called with mu held.
// The keep-alive and reconnect timers are mutually exclusive: exactly one may
// be active, and both are cleared on every transition out of Open.
func (m *Manager) stopKeepAliveLocked() {
	if m.keepAliveStop != nil {
		close(m.keepAliveStop)
		m.keepAliveStop = nil
	}
}

func (m *Manager) notifyStatus() {
	if m.status == nil {
		return
	}
	m.mu.Lock()
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.status(st)
}
