package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/types"
)

const waitFor = 2 * time.Second

var testEnv = Environment{
	UserAgent:      "registerkaro-chat/test",
	Language:       "hi-IN",
	ScreenWidth:    80,
	ScreenHeight:   24,
	TimezoneOffset: 0,
	Platform:       "linux/amd64",
	CookiesEnabled: true,
	IndexedDB:      false,
	LocalStorage:   true,
	SessionStorage: true,
}

// testDeviceID is DeviceFingerprint(testEnv).
const testDeviceID = "device_74ba4f11"

type fakeConn struct {
	inbound   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, fmt.Errorf("%w: closed locally", ErrClosed)
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	b, ok := v.([]byte)
	if !ok {
		var err error
		b, err = json.Marshal(v)
		require.NoError(t, err)
	}
	c.inbound <- b
}

func (c *fakeConn) remoteClose() {
	c.readErr <- fmt.Errorf("%w: 1000 bye", ErrClosed)
}

func (c *fakeConn) frames(t *testing.T) []types.OutboundFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.OutboundFrame, 0, len(c.writes))
	for _, w := range c.writes {
		var f types.OutboundFrame
		require.NoError(t, json.Unmarshal(w, &f))
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) frameTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.frames(t) {
		out = append(out, f.Type)
	}
	return out
}

type dialResult struct {
	conn Conn
	err  error
}

// fakeDialer replays a script of results. An exhausted script hands out
// fresh connections. When gated, Dial blocks until release is called,
// ignoring ctx so a late handshake can be simulated.
type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	conns  []*fakeConn
	dials  int
	gate   chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	var res dialResult
	if len(d.script) > 0 {
		res = d.script[0]
		d.script = d.script[1:]
	} else {
		c := newFakeConn()
		d.conns = append(d.conns, c)
		res = dialResult{conn: c}
	}
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.conn, nil
}

func (d *fakeDialer) hold() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

func (d *fakeDialer) release() {
	d.mu.Lock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	d.mu.Unlock()
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.script = append(d.script, dialResult{err: errors.New("connection refused")})
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type fakeTimer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

// fire runs timer i's callback the way the runtime would, even if it was
// stopped, to model a Stop that lost the race.
func (c *fakeClock) fire(i int) {
	c.timer(i).fn()
}

type harness struct {
	m       *Manager
	dialer  *fakeDialer
	clock   *fakeClock
	session *store.MemoryStore
	durable *store.MemoryStore

	mu       sync.Mutex
	statuses []Status
	events   []types.Event
}

func newHarness() *harness {
	h := &harness{
		dialer:  &fakeDialer{},
		clock:   newFakeClock(),
		session: store.NewMemoryStore(0),
		durable: store.NewMemoryStore(0),
	}
	return h
}

// start builds the manager; seed the stores before calling it.
func (h *harness) start(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "ws://assistant.test/ws"
	}
	if cfg.Environment == (Environment{}) {
		cfg.Environment = testEnv
	}
	h.m = New(cfg,
		WithDialer(h.dialer),
		WithClock(h.clock),
		WithLogger(zaptest.NewLogger(t)),
		WithSessionStore(h.session),
		WithDurableStore(h.durable),
	)
	h.m.OnStatusChange(func(s Status) {
		h.mu.Lock()
		h.statuses = append(h.statuses, s)
		h.mu.Unlock()
	})
	h.m.OnMessage(func(ev types.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	t.Cleanup(func() {
		h.dialer.release()
		_ = h.m.Close()
	})
	return h.m
}

func (h *harness) statusHistory() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.statuses...)
}

func (h *harness) count(s Status) int {
	n := 0
	for _, got := range h.statusHistory() {
		if got == s {
			n++
		}
	}
	return n
}

func (h *harness) received() []types.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Event(nil), h.events...)
}

// settle waits until every closure posted so far has run on the loop.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, h.m.box.post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("event loop did not settle")
	}
}

func (h *harness) waitStatus(t *testing.T, s Status) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Status() == s }, waitFor, time.Millisecond)
}

func (h *harness) waitConnected(t *testing.T, i int) *fakeConn {
	t.Helper()
	h.waitStatus(t, StatusConnected)
	h.settle(t)
	c := h.dialer.conn(i)
	require.NotNil(t, c)
	return c
}
