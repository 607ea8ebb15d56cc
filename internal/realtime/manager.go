package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/types"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBase        = time.Second
	DefaultReconnectMax         = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second

	userAgentLimit = 100
)

var errNotConnected = errors.New("realtime: not connected")

// Config describes the channel a Manager maintains.
type Config struct {
	URL string
	// MaxReconnectAttempts caps automatic reconnects. Zero selects the
	// default; a negative value disables automatic reconnects.
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	HandshakeTimeout     time.Duration
	// Environment feeds the device fingerprint and client_info frame.
	Environment Environment
}

type (
	MessageHandler func(types.Event)
	StatusHandler  func(Status)
)

type Option func(*Manager)

func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithSessionStore sets the KV scoped to one browsing session.
func WithSessionStore(kv store.KV) Option { return func(m *Manager) { m.sessionKV = kv } }

// WithDurableStore sets the KV that survives across sessions.
func WithDurableStore(kv store.KV) Option { return func(m *Manager) { m.durableKV = kv } }

// Manager owns the channel lifecycle: connect, reconnect with backoff,
// outbound queueing, identity bootstrap and inbound dispatch.
type Manager struct {
	url              string
	handshakeTimeout time.Duration
	policy           reconnectPolicy
	env              Environment
	dialer           Dialer
	clock            Clock
	log              *zap.Logger
	sessionKV        store.KV
	durableKV        store.KV
	ids              identityStore

	box       *mailbox
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	onMessage listeners[types.Event]
	onStatus  listeners[Status]

	// view mirrors loop state for readers on other goroutines.
	viewMu   sync.RWMutex
	status   Status
	identity types.Identity

	// Loop-owned state below; only touched from run.
	state      Status
	ident      types.Identity
	conn       Conn
	gen        uint64
	cancelDial context.CancelFunc
	timer      Timer
	timerGen   uint64
	attempts   int
	pending    []string
	stopped    bool
}

// New creates a Manager and starts its event loop. The channel is not
// opened until Connect or SendText is called.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		url:              cfg.URL,
		handshakeTimeout: cfg.HandshakeTimeout,
		env:              cfg.Environment,
		policy: reconnectPolicy{
			base:        cfg.ReconnectBase,
			max:         cfg.ReconnectMax,
			maxAttempts: cfg.MaxReconnectAttempts,
		},
		box:   newMailbox(),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		state: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handshakeTimeout <= 0 {
		m.handshakeTimeout = DefaultHandshakeTimeout
	}
	if m.policy.base <= 0 {
		m.policy.base = DefaultReconnectBase
	}
	if m.policy.max <= 0 {
		m.policy.max = DefaultReconnectMax
	}
	if m.policy.maxAttempts == 0 {
		m.policy.maxAttempts = DefaultMaxReconnectAttempts
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(m.handshakeTimeout, DefaultWriteTimeout)
	}
	if m.clock == nil {
		m.clock = systemClock{}
	}
	if m.sessionKV == nil {
		m.sessionKV = store.NewMemoryStore(0)
	}
	if m.durableKV == nil {
		m.durableKV = store.NewMemoryStore(0)
	}
	m.ids = identityStore{session: m.sessionKV, durable: m.durableKV, log: m.log}
	m.ident = m.ids.load()
	m.status = m.state
	m.identity = m.ident

	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.box.notify:
			for _, fn := range m.box.drain() {
				if m.stopped {
					break
				}
				fn()
			}
		case <-m.quit:
			return
		}
	}
}

// Connect opens the channel. It is a no-op while connecting or connected.
func (m *Manager) Connect() { m.box.post(m.connect) }

// Disconnect closes the channel and cancels any pending reconnect.
func (m *Manager) Disconnect() { m.box.post(m.disconnect) }

// SendText sends a chat message, queueing it and connecting if the channel
// is not open.
func (m *Manager) SendText(text string) {
	m.box.post(func() { m.sendText(text) })
}

// NotifyInactivity tells the backend the user went idle. Silently dropped
// unless connected with an established session.
func (m *Manager) NotifyInactivity(reason string) {
	m.box.post(func() { m.notifyInactivity(reason) })
}

// OnMessage registers a handler for every decoded inbound frame.
func (m *Manager) OnMessage(h MessageHandler) (unsubscribe func()) {
	return m.onMessage.add(h)
}

// OnStatusChange registers a handler for status transitions.
func (m *Manager) OnStatusChange(h StatusHandler) (unsubscribe func()) {
	return m.onStatus.add(h)
}

func (m *Manager) Status() Status {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.status
}

// Identity returns the identifiers known to the manager right now.
func (m *Manager) Identity() types.Identity {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.identity
}

// Close tears down the channel and stops the event loop. The Manager cannot
// be reused afterwards. Close must not be called from a listener.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.box.post(func() {
			m.disconnect()
			m.stopped = true
			m.box.close()
			close(m.quit)
		})
	})
	<-m.done
	return nil
}

func (m *Manager) connect() {
	if m.state.Active() {
		m.log.Debug("already connected or connecting", zap.String("status", string(m.state)))
		return
	}
	m.stopTimer()

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout)
	m.cancelDial = cancel
	m.setStatus(StatusConnecting)
	m.log.Info("connecting", zap.String("url", m.url), zap.Int("attempts", m.attempts))

	go func() {
		conn, err := m.dialer.Dial(ctx, m.url)
		if !m.box.post(func() { m.handshakeDone(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) handshakeDone(gen uint64, conn Conn, err error) {
	if gen != m.gen || m.state != StatusConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		m.log.Debug("discarding stale handshake", zap.Uint64("gen", gen), zap.Uint64("current", m.gen))
		return
	}
	m.cancelDial()
	m.cancelDial = nil

	if err != nil {
		m.log.Warn("handshake failed", zap.Error(err))
		m.setStatus(StatusError)
		m.scheduleReconnect()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.setStatus(StatusConnected)
	m.log.Info("connection established", zap.String("url", m.url))
	go m.readLoop(gen, conn)

	m.resolveIdentity()
	if !m.flushPending() {
		return
	}
	m.bootstrap()
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.box.post(func() { m.transportDown(gen, err) })
			return
		}
		if !m.box.post(func() { m.receive(gen, data) }) {
			return
		}
	}
}

func (m *Manager) transportDown(gen uint64, err error) {
	if gen != m.gen || m.conn == nil {
		return
	}
	if errors.Is(err, ErrClosed) {
		m.log.Info("channel closed", zap.Error(err))
		_ = m.conn.Close()
		m.conn = nil
		m.gen++
		m.setStatus(StatusDisconnected)
		m.scheduleReconnect()
		return
	}
	m.fail(err)
}

// fail handles a transport error: report it, force a disconnect, then try
// again later.
func (m *Manager) fail(err error) {
	m.log.Error("channel error", zap.Error(err))
	m.setStatus(StatusError)
	m.disconnect()
	m.scheduleReconnect()
}

func (m *Manager) disconnect() {
	m.stopTimer()
	if m.conn == nil && m.state != StatusConnecting {
		if m.state == StatusError {
			m.setStatus(StatusDisconnected)
		}
		return
	}
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setStatus(StatusDisconnected)
	m.log.Info("disconnected")
}

func (m *Manager) scheduleReconnect() {
	if m.timer != nil {
		return
	}
	if m.policy.exhausted(m.attempts) {
		m.log.Warn("reconnect attempts exhausted", zap.Int("attempts", m.attempts))
		if m.state == StatusError {
			m.setStatus(StatusDisconnected)
		}
		return
	}
	next := m.attempts + 1
	delay := m.policy.delay(next)
	m.timerGen++
	tg := m.timerGen
	m.log.Info("scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", next),
		zap.Int("max", m.policy.maxAttempts))
	m.timer = m.clock.AfterFunc(delay, func() {
		m.box.post(func() { m.reconnectDue(tg) })
	})
}

func (m *Manager) reconnectDue(tg uint64) {
	if tg != m.timerGen || m.timer == nil {
		return
	}
	m.timer = nil
	m.attempts++
	m.connect()
}

func (m *Manager) stopTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.timerGen++
}

func (m *Manager) sendText(text string) {
	if m.state != StatusConnected {
		m.pending = append(m.pending, text)
		m.log.Debug("not connected, queueing message", zap.Int("queued", len(m.pending)))
		m.connect()
		return
	}
	if err := m.write(m.ident.Stamp(types.OutboundFrame{Type: types.FrameMessage, Text: text})); err != nil {
		m.pending = append(m.pending, text)
		m.fail(err)
	}
}

func (m *Manager) notifyInactivity(reason string) {
	if m.state != StatusConnected || m.ident.SessionID == "" {
		return
	}
	m.send(m.ident.Stamp(types.OutboundFrame{Type: types.FrameInactive, Context: reason}))
}

// flushPending sends queued messages in order with the identity known now.
// On a write failure the unsent tail is re-queued.
func (m *Manager) flushPending() bool {
	if len(m.pending) == 0 {
		return true
	}
	queued := m.pending
	m.pending = nil
	m.log.Info("sending queued messages", zap.Int("count", len(queued)))
	for i, text := range queued {
		if err := m.write(m.ident.Stamp(types.OutboundFrame{Type: types.FrameMessage, Text: text})); err != nil {
			m.pending = append(queued[i:], m.pending...)
			m.fail(err)
			return false
		}
	}
	return true
}

// resolveIdentity fills unknown identifiers from storage and derives the
// device id when none was ever stored.
func (m *Manager) resolveIdentity() {
	id := merge(m.ident, m.ids.load())
	if id.DeviceID == "" {
		id.DeviceID = DeviceFingerprint(m.env)
		m.ids.saveDeviceID(id.DeviceID)
		m.log.Debug("generated device id", zap.String("device_id", id.DeviceID))
	}
	m.setIdentity(id)
}

func (m *Manager) bootstrap() {
	id := m.ident
	var frames []types.OutboundFrame
	if id.CookieID != "" {
		frames = append(frames, types.OutboundFrame{Type: types.FrameCookieID, CookieID: id.CookieID})
	}
	frames = append(frames, types.OutboundFrame{Type: types.FrameDeviceID, DeviceID: id.DeviceID})
	if id.SessionID != "" {
		frames = append(frames, types.OutboundFrame{Type: types.FramePreviousSessionID, PreviousSessionID: id.SessionID})
	}
	frames = append(frames, types.OutboundFrame{
		Type:     types.FrameClientInfo,
		CookieID: id.CookieID,
		ClientInfo: &types.ClientInfo{Device: types.DeviceInfo{
			DeviceID:   id.DeviceID,
			Platform:   m.env.Platform,
			UserAgent:  truncateUTF16(m.env.UserAgent, userAgentLimit),
			ScreenSize: m.env.ScreenSize(),
			Language:   m.env.Language,
			LastVisit:  m.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}},
	})
	for _, f := range frames {
		if err := m.write(f); err != nil {
			m.fail(err)
			return
		}
	}
}

func (m *Manager) receive(gen uint64, data []byte) {
	if gen != m.gen || m.conn == nil {
		return
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		m.log.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if ev.Type == "" {
		m.log.Warn("dropping frame without type", zap.Int("bytes", len(data)))
		return
	}
	ev.Raw = append(json.RawMessage(nil), data...)

	switch ev.Type {
	case types.EventSessionInfo:
		if ev.SessionID != "" {
			id := m.ident
			id.SessionID = ev.SessionID
			m.setIdentity(id)
			m.ids.saveSessionID(ev.SessionID)
			m.log.Info("session id set", zap.String("session_id", ev.SessionID))
		}
	case types.EventSetCookie:
		if ev.CookieID != "" {
			id := m.ident
			id.CookieID = ev.CookieID
			m.setIdentity(id)
			m.ids.saveCookieID(ev.CookieID)
			m.log.Info("cookie id set", zap.String("cookie_id", ev.CookieID))
		}
	}

	for _, fn := range m.onMessage.snapshot() {
		m.safeCall("message", func() { fn(ev) })
	}
}

func (m *Manager) send(f types.OutboundFrame) {
	if err := m.write(f); err != nil {
		m.fail(err)
	}
}

func (m *Manager) write(f types.OutboundFrame) error {
	if m.conn == nil {
		return errNotConnected
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	if err := m.conn.WriteMessage(b); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (m *Manager) setStatus(s Status) {
	m.state = s
	m.viewMu.Lock()
	m.status = s
	m.viewMu.Unlock()
	for _, fn := range m.onStatus.snapshot() {
		m.safeCall("status", func() { fn(s) })
	}
}

func (m *Manager) setIdentity(id types.Identity) {
	m.ident = id
	m.viewMu.Lock()
	m.identity = id
	m.viewMu.Unlock()
}

// safeCall runs a listener, containing any panic so the remaining
// listeners and the loop keep going.
func (m *Manager) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked", zap.String("listener", kind), zap.Any("panic", r))
		}
	}()
	fn()
}
