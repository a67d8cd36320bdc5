package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calyptra/tether/internal/logging"
)

// ErrConnectAborted is returned by Connect when Disconnect is called while
// the dial is still in flight.
var ErrConnectAborted = errors.New("connect aborted by disconnect")

// Handler receives inbound envelopes for a subscribed type.
type Handler func(Envelope)

// StatusHandler receives connection state snapshots on every transition.
type StatusHandler func(State)

// Config contains Manager tunables. Zero values fall back to the defaults
// documented on each field.
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://), without query parameters.
	URL string

	// HandshakeTimeout bounds the dial, covering both TCP connect and the
	// WebSocket upgrade. Default: 10s.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is how often a ping envelope is sent while connected.
	// Default: 30s.
	HeartbeatInterval time.Duration

	// BaseDelay is the first reconnect backoff delay. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the reconnect backoff. Default: 30s.
	MaxDelay time.Duration

	// MaxReconnectAttempts bounds consecutive automatic reconnects.
	// Default: 5.
	MaxReconnectAttempts int

	// Logger overrides the default realtime component logger.
	Logger *slog.Logger
}

type subscription struct {
	id int
	fn Handler
}

type statusSubscription struct {
	id int
	fn StatusHandler
}

// Manager owns one WebSocket connection: open/close lifecycle, reconnection
// with exponential backoff and jitter, a periodic heartbeat, and fan-out of
// parsed inbound envelopes to subscribers. It has no knowledge of session
// semantics.
//
// All methods are safe for concurrent use. Handlers are invoked from the
// read-loop goroutine; a handler that blocks stalls delivery to later
// handlers, so long work belongs in the handler's own goroutine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	lastParams url.Values
	manual     bool // set by Disconnect; suppresses automatic reconnection
	gen        int  // connection generation; stale read loops are ignored

	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	// writeMu serializes transport writes (Send vs heartbeat).
	writeMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[string][]subscription
	statusSubs []statusSubscription
	nextID     int
}

// NewManager creates a Manager for the given endpoint. No connection is made
// until Connect is called.
func NewManager(cfg Config) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Realtime()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		state:    State{Status: StatusDisconnected},
		handlers: make(map[string][]subscription),
	}
}

// State returns a snapshot of the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the transport is currently open.
func (m *Manager) Connected() bool {
	return m.State().Status == StatusConnected
}

// Connect dials the endpoint with the given query parameters, tearing down
// any existing transport first. On success the reconnect attempt counter is
// reset, the heartbeat starts, and the parameters are remembered for
// automatic reconnects.
func (m *Manager) Connect(params url.Values) error {
	m.mu.Lock()
	m.manual = false
	m.teardownLocked()
	m.lastParams = cloneValues(params)
	m.state.Status = StatusConnecting
	snap := m.state
	m.mu.Unlock()
	m.notifyStatus(snap)

	target, err := m.buildURL(params)
	if err != nil {
		return m.connectFailed(fmt.Errorf("invalid endpoint: %w", err))
	}

	m.logger.Debug("dialing", "url", target)
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(target, nil)
	if err != nil {
		return m.connectFailed(fmt.Errorf("dial failed: %w", err))
	}

	m.mu.Lock()
	if m.manual {
		// Disconnect raced the dial; honor it.
		m.mu.Unlock()
		conn.Close()
		return ErrConnectAborted
	}
	if m.conn != nil {
		// A concurrent Connect also passed the dial; the later one wins and
		// the superseded transport is closed so its read loop terminates.
		m.conn.Close()
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	now := time.Now()
	m.state = State{Status: StatusConnected, LastConnected: &now}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	snap = m.state
	m.mu.Unlock()
	m.notifyStatus(snap)

	go m.readLoop(conn, gen)
	go m.heartbeat(stop)

	m.logger.Info("connected", "url", target)
	return nil
}

// connectFailed records a dial failure, schedules a reconnect when attempts
// remain, and returns the error to the caller.
func (m *Manager) connectFailed(err error) error {
	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	m.state.Status = StatusError
	m.state.LastError = err.Error()
	m.scheduleReconnectLocked()
	snap := m.state
	m.mu.Unlock()
	m.notifyStatus(snap)
	m.logger.Warn("connection failed", "error", err)
	return err
}

// Disconnect cancels any pending reconnect and the heartbeat, closes the
// transport with a normal closure code and moves to the disconnected state.
// Repeated calls are no-ops; nothing reconnects until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	m.gen++ // orphan the current read loop, if any
	conn := m.conn
	m.conn = nil
	changed := m.state.Status != StatusDisconnected
	m.state.Status = StatusDisconnected
	m.state.LastError = ""
	snap := m.state
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		conn.Close()
		m.logger.Info("disconnected")
	}
	if changed {
		m.notifyStatus(snap)
	}
}

// Send marshals data and transmits it as an envelope of the given type.
// It returns false, without error, when the connection is not open.
func (m *Manager) Send(msgType string, data any) bool {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			m.logger.Error("failed to marshal payload", "type", msgType, "error", err)
			return false
		}
		raw = b
	}
	return m.SendEnvelope(Envelope{Type: msgType, Data: raw})
}

// SendEnvelope stamps the envelope with the current time and transmits it.
// The caller fills Type, Data and (optionally) SessionID. Returns false when
// the connection is not open or the write fails.
func (m *Manager) SendEnvelope(env Envelope) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state.Status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	env.Timestamp = time.Now().Format(time.RFC3339)
	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("failed to marshal envelope", "type", env.Type, "error", err)
		return false
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Debug("write failed", "type", env.Type, "error", err)
		return false
	}
	return true
}

// On subscribes a handler to inbound envelopes of the given type (MsgTypeAny
// for every envelope), invoked in registration order. The returned function
// removes the subscription and is safe to call more than once.
func (m *Manager) On(eventType string, h Handler) func() {
	m.handlersMu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers[eventType] = append(m.handlers[eventType], subscription{id: id, fn: h})
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		subs := m.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				m.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// OnStatus subscribes a handler to connection state transitions; it receives
// a snapshot of the full state. The returned function removes the subscription.
func (m *Manager) OnStatus(h StatusHandler) func() {
	m.handlersMu.Lock()
	m.nextID++
	id := m.nextID
	m.statusSubs = append(m.statusSubs, statusSubscription{id: id, fn: h})
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		for i, s := range m.statusSubs {
			if s.id == id {
				m.statusSubs = append(m.statusSubs[:i], m.statusSubs[i+1:]...)
				break
			}
		}
	}
}

// readLoop reads envelopes until the transport fails or is superseded.
func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		env, perr := ParseEnvelope(data)
		if perr != nil {
			m.logger.Warn("invalid envelope", "error", perr)
			continue
		}
		m.dispatch(env)
	}
}

// handleReadError decides whether a read failure is a clean shutdown or an
// unclean drop that warrants a reconnect.
func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer Connect or a Disconnect already took over this transport.
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	m.conn = nil

	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if m.manual || clean {
		m.state.Status = StatusDisconnected
		snap := m.state
		m.mu.Unlock()
		m.logger.Debug("connection closed", "clean", clean)
		m.notifyStatus(snap)
		return
	}

	m.state.Status = StatusError
	m.state.LastError = err.Error()
	m.scheduleReconnectLocked()
	snap := m.state
	m.mu.Unlock()
	m.logger.Warn("connection lost", "error", err)
	m.notifyStatus(snap)
}

// scheduleReconnectLocked arms the reconnect timer if attempts remain.
// Caller must hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.state.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect attempts exhausted",
			"attempts", m.state.ReconnectAttempts)
		return
	}
	delay := ReconnectDelay(m.state.ReconnectAttempts, m.cfg.BaseDelay, m.cfg.MaxDelay) + reconnectJitter()
	m.state.ReconnectAttempts++
	attempt := m.state.ReconnectAttempts
	params := cloneValues(m.lastParams)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		_ = m.Connect(params)
	})
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// heartbeat sends a ping envelope at the configured interval until stopped.
// There is no pong correlation: a half-open connection where local writes
// still succeed is only detected by the eventual transport-level close.
func (m *Manager) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !m.Send(MsgTypePing, nil) {
				return
			}
		case <-stop:
			return
		}
	}
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller must hold m.mu.
func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// teardownLocked closes any existing transport and cancels pending timers so
// a fresh dial can begin. Caller must hold m.mu.
func (m *Manager) teardownLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	m.gen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// dispatch fans an envelope out to type subscribers and wildcard subscribers.
// A panicking handler is recovered and logged so it cannot break delivery to
// the rest.
func (m *Manager) dispatch(env Envelope) {
	m.handlersMu.Lock()
	var targets []Handler
	for _, s := range m.handlers[env.Type] {
		targets = append(targets, s.fn)
	}
	if env.Type != MsgTypeAny {
		for _, s := range m.handlers[MsgTypeAny] {
			targets = append(targets, s.fn)
		}
	}
	m.handlersMu.Unlock()

	for _, h := range targets {
		m.safeCall(h, env)
	}
}

func (m *Manager) safeCall(h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked", "type", env.Type, "panic", r)
		}
	}()
	h(env)
}

// notifyStatus delivers a state snapshot to every status subscriber.
func (m *Manager) notifyStatus(snap State) {
	m.handlersMu.Lock()
	subs := make([]StatusHandler, 0, len(m.statusSubs))
	for _, s := range m.statusSubs {
		subs = append(subs, s.fn)
	}
	m.handlersMu.Unlock()

	for _, h := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("status subscriber panicked", "panic", r)
				}
			}()
			h(snap)
		}()
	}
}

// buildURL appends the query parameters to the configured endpoint.
func (m *Manager) buildURL(params url.Values) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
