package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomnotify/internal/eventbus"
	"roomnotify/internal/runtime/clock"
	"roomnotify/internal/transport/stomp"
)

var t0 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

type fakeConn struct {
	mu      sync.Mutex
	subs    []string
	failSub map[string]error
	handler func(stomp.Message)

	serving   chan struct{}
	serveOnce sync.Once
	end       chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		failSub: map[string]error{},
		serving: make(chan struct{}),
		end:     make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Subscribe(id, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failSub[dest]; err != nil {
		return err
	}
	c.subs = append(c.subs, id+"="+dest)
	return nil
}

func (c *fakeConn) Serve(ctx context.Context, h func(stomp.Message)) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	c.serveOnce.Do(func() { close(c.serving) })
	select {
	case err := <-c.end:
		return err
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return nil
	}
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

func (c *fakeConn) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subs...)
}

// deliver blocks until Serve is running, then hands msg to the handler.
func (c *fakeConn) deliver(t *testing.T, msg stomp.Message) {
	t.Helper()
	select {
	case <-c.serving:
	case <-time.After(waitFor):
		t.Fatal("session never served")
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	require.NotNil(t, h)
	h(msg)
}

type fakeDialer struct {
	mu       sync.Mutex
	attempts int
	tokens   []string
	fail     bool
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	d.tokens = append(d.tokens, token)
	if d.fail {
		return nil, fmt.Errorf("dial attempt %d: %w", d.attempts, errors.New("connection refused"))
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) seenTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type nopHandler struct {
	mu   sync.Mutex
	subs int
}

func (h *nopHandler) Subscribe(Conn, Bootstrap) {
	h.mu.Lock()
	h.subs++
	h.mu.Unlock()
}

func (h *nopHandler) Handle(stomp.Message) {}

func (h *nopHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs
}

type harness struct {
	mgr     *Manager
	dialer  *fakeDialer
	handler *nopHandler
	clk     *clock.Fake
	events  <-chan eventbus.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256, EventState)
	t.Cleanup(unsub)

	h := &harness{dialer: &fakeDialer{}, handler: &nopHandler{}, clk: clk, events: events}
	h.mgr = NewManager(Config{}, h.dialer, h.handler, WithClock(clk), WithBus(bus))
	t.Cleanup(func() { _ = h.mgr.Stop(context.Background()) })
	return h
}

var creds = Bootstrap{Token: "tok", EntityID: "123"}

// settled waits until the manager reached want with exactly pending timers queued.
func (h *harness) settled(t *testing.T, want State, pending int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.mgr.State() == want && h.clk.Pending() == pending
	}, waitFor, tick, "want state %s with %d pending timers; have %s/%d", want, pending, h.mgr.State(), h.clk.Pending())
}

// collect reads exactly n state changes from the bus.
func (h *harness) collect(t *testing.T, n int) []StateChange {
	t.Helper()
	out := make([]StateChange, 0, n)
	for len(out) < n {
		select {
		case ev := <-h.events:
			out = append(out, ev.Data.(StateChange))
		case <-time.After(waitFor):
			t.Fatalf("got %d state changes, want %d: %+v", len(out), n, out)
		}
	}
	return out
}

func targets(ch []StateChange) []State {
	out := make([]State, 0, len(ch))
	for _, c := range ch {
		out = append(out, c.To)
	}
	return out
}

func TestStartWithoutCredentialErrorsWithoutDialing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		b    Bootstrap
		want error
	}{
		{"no token", Bootstrap{EntityID: "123"}, ErrMissingToken},
		{"blank token", Bootstrap{Token: "  ", EntityID: "123"}, ErrMissingToken},
		{"no entity", Bootstrap{Token: "tok"}, ErrMissingEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			h.mgr.Start(tc.b)

			assert.Equal(t, StateErroring, h.mgr.State())
			assert.ErrorIs(t, h.mgr.Err(), tc.want)
			assert.False(t, h.mgr.Running())
			assert.Equal(t, 0, h.clk.Pending(), "no retry may be scheduled")

			h.clk.Advance(time.Minute)
			assert.Equal(t, 0, h.dialer.count())
			assert.Equal(t, StateErroring, h.mgr.State())
		})
	}
}

func TestStartConnectsAndSubscribes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)

	require.Eventually(t, func() bool { return h.handler.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"tok"}, h.dialer.seenTokens())
	assert.NoError(t, h.mgr.Err())

	ch := h.collect(t, 2)
	assert.Equal(t, StateChange{From: StateIdle, To: StateConnecting, At: t0}, ch[0])
	assert.Equal(t, StateConnecting, ch[1].From)
	assert.Equal(t, StateConnected, ch[1].To)
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)
	h.mgr.Start(creds)

	assert.Equal(t, 1, h.dialer.count())
}

func TestRemoteCloseReconnectsAfterDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)

	first := h.dialer.conn(0)
	first.end <- nil
	h.settled(t, StateDisconnected, 1)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, h.mgr.Failures())

	h.clk.Advance(4 * time.Second)
	assert.Equal(t, 1, h.dialer.count(), "no attempt before the reconnect delay")

	h.clk.Advance(time.Second)
	h.settled(t, StateConnected, 0)
	assert.Equal(t, 2, h.dialer.count())
	assert.Equal(t, 0, h.mgr.Failures())

	ch := h.collect(t, 5)
	for _, c := range ch {
		if c.To == StateConnected {
			assert.Equal(t, StateConnecting, c.From)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}, targets(ch))
}

func TestTransportErrorMovesToErroring(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)

	boom := errors.New("connection reset by peer")
	h.dialer.conn(0).end <- boom
	h.settled(t, StateErroring, 1)
	assert.ErrorIs(t, h.mgr.Err(), boom)

	h.clk.Advance(5 * time.Second)
	h.settled(t, StateConnected, 0)
	assert.NoError(t, h.mgr.Err())
}

func TestConsecutiveFailuresEnterWaiting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dialer.setFail(true)

	h.mgr.Start(creds)
	for i := 1; i < DefaultMaxFailures; i++ {
		h.settled(t, StateErroring, 1)
		require.Equal(t, i, h.dialer.count())
		h.clk.Advance(DefaultReconnectDelay)
	}
	h.settled(t, StateWaiting, 1)
	require.Equal(t, DefaultMaxFailures, h.dialer.count())
	assert.Error(t, h.mgr.Err())

	// Nothing happens for the cooldown window, not even at the usual delay.
	h.clk.Advance(DefaultReconnectDelay)
	h.clk.Advance(DefaultCooldown - DefaultReconnectDelay - time.Millisecond)
	assert.Equal(t, DefaultMaxFailures, h.dialer.count())
	assert.Equal(t, StateWaiting, h.mgr.State())

	h.dialer.setFail(false)
	h.clk.Advance(time.Millisecond)
	h.settled(t, StateConnected, 0)
	assert.Equal(t, DefaultMaxFailures+1, h.dialer.count())

	// Five rounds of Connecting/Erroring, then Waiting, then the fresh attempt.
	tos := targets(h.collect(t, 2*DefaultMaxFailures+4))
	assert.Equal(t, []State{StateConnecting, StateErroring}, tos[:2])
	assert.Equal(t, []State{StateErroring, StateWaiting, StateDisconnected, StateConnecting, StateConnected}, tos[len(tos)-5:])
}

func TestCooldownResetsFailureCounter(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dialer.setFail(true)

	h.mgr.Start(creds)
	for i := 1; i < DefaultMaxFailures; i++ {
		h.settled(t, StateErroring, 1)
		h.clk.Advance(DefaultReconnectDelay)
	}
	h.settled(t, StateWaiting, 1)
	h.clk.Advance(DefaultCooldown)

	// One failure after the cooldown is back on the short delay, not another cooldown.
	h.settled(t, StateErroring, 1)
	assert.Equal(t, 1, h.mgr.Failures())
	h.clk.Advance(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return h.dialer.count() == DefaultMaxFailures+2 }, waitFor, tick)
}

func TestStopWhileWaitingCancelsCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dialer.setFail(true)

	h.mgr.Start(creds)
	for i := 1; i < DefaultMaxFailures; i++ {
		h.settled(t, StateErroring, 1)
		h.clk.Advance(DefaultReconnectDelay)
	}
	h.settled(t, StateWaiting, 1)

	require.NoError(t, h.mgr.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.Equal(t, 0, h.clk.Pending())

	h.clk.Advance(time.Hour)
	assert.Equal(t, DefaultMaxFailures, h.dialer.count())
	assert.Equal(t, StateIdle, h.mgr.State())
}

func TestStopDeactivatesConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)

	require.NoError(t, h.mgr.Stop(context.Background()))
	assert.True(t, h.dialer.conn(0).isClosed())
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.False(t, h.mgr.Running())

	assert.Equal(t, []State{StateConnecting, StateConnected, StateIdle}, targets(h.collect(t, 3)))
}

func TestStopIsSafeFromAnyState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.mgr.Stop(context.Background()))
	require.NoError(t, h.mgr.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.mgr.State())

	h.mgr.Start(Bootstrap{})
	require.Equal(t, StateErroring, h.mgr.State())
	require.NoError(t, h.mgr.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.NoError(t, h.mgr.Err())
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)
	require.NoError(t, h.mgr.Stop(context.Background()))

	h.mgr.Start(creds)
	h.settled(t, StateConnected, 0)
	assert.Equal(t, 2, h.dialer.count())
	assert.False(t, h.dialer.conn(1).isClosed())
}
