// Package realtime keeps one live push connection per viewer, re-subscribes on
// every connect and feeds inbound frames through decode → dedup → store.
//
// The Manager owns the connection lifecycle. All state transitions happen on a
// single run-loop goroutine fed by events from the dialer, the session reader
// and the retry/cooldown timers, so connection state is never mutated
// concurrently.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"roomnotify/internal/eventbus"
	"roomnotify/internal/runtime/clock"
	rtsup "roomnotify/internal/runtime/supervisor"
	"roomnotify/internal/transport/stomp"
	logx "roomnotify/pkg/logx"
)

var (
	ErrMissingToken  = errors.New("realtime: missing bearer token")
	ErrMissingEntity = errors.New("realtime: missing entity id")
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultCooldown       = 30 * time.Second
	DefaultMaxFailures    = 5
	DefaultDialTimeout    = 10 * time.Second
)

// Bootstrap is what the surrounding application must supply before Start.
type Bootstrap struct {
	Token    string
	EntityID string
}

// Conn is a live transport session.
type Conn interface {
	Subscribe(id, destination string) error
	// Serve blocks until the session ends: nil for an orderly close, an error
	// for a transport failure.
	Serve(ctx context.Context, h func(stomp.Message)) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

type DialerFunc func(ctx context.Context, token string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, token string) (Conn, error) { return f(ctx, token) }

// STOMPDialer adapts a STOMP-over-WebSocket dialer.
func STOMPDialer(d *stomp.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context, token string) (Conn, error) {
		s, err := d.Dial(ctx, token)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Handler is driven by the Manager: Subscribe once per established session,
// Handle for every inbound frame.
type Handler interface {
	Subscribe(conn Conn, b Bootstrap)
	Handle(msg stomp.Message)
}

type Config struct {
	ReconnectDelay time.Duration
	Cooldown       time.Duration
	// MaxFailures consecutive failures switch from ReconnectDelay to Cooldown.
	MaxFailures int
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

type ManagerOption func(*Manager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clk = c
		}
	}
}

func WithLogger(log logx.Logger) ManagerOption { return func(m *Manager) { m.log = log } }

func WithBus(bus eventbus.Bus) ManagerOption { return func(m *Manager) { m.bus = bus } }

type Manager struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus

	mu       sync.Mutex
	state    State
	lastErr  error
	failures int
	cur      *run
}

func NewManager(cfg Config, dialer Dialer, handler Handler, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		handler: handler,
		clk:     clock.Real(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the most recent failure cause, cleared on a successful connect.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Failures returns the consecutive failure count as of the last transition.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Start begins connecting and keeps the connection alive until Stop. It is a
// no-op while already running. A missing token or entity id moves the manager
// to StateErroring without any network attempt; call Start again once the
// credential is available.
func (m *Manager) Start(b Bootstrap) {
	m.mu.Lock()
	if m.cur != nil {
		m.mu.Unlock()
		m.log.Debug("start ignored; already running")
		return
	}

	var err error
	switch {
	case strings.TrimSpace(b.Token) == "":
		err = ErrMissingToken
	case strings.TrimSpace(b.EntityID) == "":
		err = ErrMissingEntity
	}
	if err != nil {
		m.failures = 0
		ch, ok := m.transitionLocked(StateErroring, err)
		m.mu.Unlock()
		m.log.Warn("not connecting", logx.Err(err))
		if ok {
			m.publish(ch)
		}
		return
	}

	r := &run{
		b:      b,
		events: make(chan event, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		tasks:  clock.NewTasks(m.clk),
		sup:    rtsup.New(context.Background(), rtsup.WithLogger(m.log)),
	}
	m.cur = r
	m.mu.Unlock()

	go m.loop(r)
}

// Stop cancels pending reconnect/cooldown timers, deactivates the connection and
// waits for every goroutine of the run to exit (or ctx to end). Safe from any
// state, including never started.
func (m *Manager) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	r := m.cur
	m.cur = nil
	if r == nil {
		ch, ok := m.transitionLocked(StateIdle, nil)
		m.mu.Unlock()
		if ok {
			m.publish(ch)
		}
		return nil
	}
	m.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- run loop ----

type eventKind int

const (
	evDialed eventKind = iota
	evDialFailed
	evClosed
	evFailed
	evRetry
	evCooldownDone
)

type event struct {
	kind    eventKind
	attempt uint64
	conn    Conn
	err     error
}

// run is one Start..Stop cycle. Fields below the separator are owned by the
// loop goroutine.
type run struct {
	b        Bootstrap
	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	tasks    *clock.Tasks
	sup      *rtsup.Supervisor

	attempt  uint64
	failures int
	conn     Conn
	timer    clock.Task
}

// post delivers ev to the loop unless the run is stopping.
func (r *run) post(ev event) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.stop:
		return false
	}
}

func (m *Manager) loop(r *run) {
	defer close(r.done)
	m.connect(r)
	for {
		select {
		case <-r.stop:
			m.teardown(r)
			return
		case ev := <-r.events:
			m.handle(r, ev)
		}
	}
}

func (m *Manager) connect(r *run) {
	r.attempt++
	attempt := r.attempt
	m.set(r, StateConnecting, nil)

	r.sup.Go0("dial", func(ctx context.Context) {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
		conn, err := m.dialer.Dial(dctx, r.b.Token)
		if err != nil {
			r.post(event{kind: evDialFailed, attempt: attempt, err: err})
			return
		}
		if !r.post(event{kind: evDialed, attempt: attempt, conn: conn}) {
			_ = conn.Close()
		}
	})
}

func (m *Manager) handle(r *run, ev event) {
	switch ev.kind {
	case evDialed:
		if ev.attempt != r.attempt || r.conn != nil {
			_ = ev.conn.Close()
			return
		}
		r.conn = ev.conn
		r.failures = 0
		m.set(r, StateConnected, nil)
		m.serve(r, ev.conn, ev.attempt)

	case evDialFailed:
		if ev.attempt != r.attempt {
			return
		}
		m.fail(r, StateErroring, ev.err)

	case evFailed, evClosed:
		if ev.attempt != r.attempt || r.conn == nil {
			return
		}
		_ = r.conn.Close()
		r.conn = nil
		if ev.kind == evFailed {
			m.fail(r, StateErroring, ev.err)
		} else {
			m.fail(r, StateDisconnected, nil)
		}

	case evRetry:
		if r.conn != nil {
			return
		}
		m.connect(r)

	case evCooldownDone:
		if r.conn != nil {
			return
		}
		r.failures = 0
		m.set(r, StateDisconnected, nil)
		m.connect(r)
	}
}

// serve subscribes and then reads the session until it ends.
func (m *Manager) serve(r *run, conn Conn, attempt uint64) {
	r.sup.Go0("serve", func(ctx context.Context) {
		var h func(stomp.Message)
		if m.handler != nil {
			m.handler.Subscribe(conn, r.b)
			h = m.handler.Handle
		}
		if err := conn.Serve(ctx, h); err != nil {
			r.post(event{kind: evFailed, attempt: attempt, err: err})
			return
		}
		r.post(event{kind: evClosed, attempt: attempt})
	})
}

// fail records one more consecutive failure and schedules the next step:
// a reconnect after ReconnectDelay, or Waiting for Cooldown once MaxFailures is hit.
func (m *Manager) fail(r *run, to State, err error) {
	r.failures++
	m.set(r, to, err)

	r.timer.Cancel()
	if r.failures >= m.cfg.MaxFailures {
		r.timer = r.tasks.Schedule(m.cfg.Cooldown, func() { r.post(event{kind: evCooldownDone}) })
		m.set(r, StateWaiting, nil)
		return
	}
	r.timer = r.tasks.Schedule(m.cfg.ReconnectDelay, func() { r.post(event{kind: evRetry}) })
}

func (m *Manager) teardown(r *run) {
	r.tasks.Close()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.sup.Cancel()
	_ = r.sup.Wait(context.Background())

	// Nothing posts any more; release sessions that were dialed but never handled.
	for {
		select {
		case ev := <-r.events:
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			continue
		default:
		}
		break
	}

	m.mu.Lock()
	var (
		ch StateChange
		ok bool
	)
	if m.cur == nil {
		m.failures = 0
		ch, ok = m.transitionLocked(StateIdle, nil)
	}
	m.mu.Unlock()
	if ok {
		m.publish(ch)
	}
}

// ---- state ----

// set applies a transition on behalf of r. Runs that are no longer current
// (Stop was called) cannot change state.
func (m *Manager) set(r *run, to State, err error) {
	m.mu.Lock()
	if m.cur != r {
		m.mu.Unlock()
		return
	}
	m.failures = r.failures
	ch, ok := m.transitionLocked(to, err)
	m.mu.Unlock()
	if ok {
		m.publish(ch)
	}
}

func (m *Manager) transitionLocked(to State, err error) (StateChange, bool) {
	if err != nil {
		m.lastErr = err
	} else if to == StateConnected || to == StateIdle {
		m.lastErr = nil
	}
	from := m.state
	if from == to {
		return StateChange{}, false
	}
	m.state = to
	ch := StateChange{From: from, To: to, Failures: m.failures, At: m.clk.Now()}
	if m.lastErr != nil && (to == StateErroring || to == StateWaiting) {
		ch.Error = m.lastErr.Error()
	}
	return ch, true
}

func (m *Manager) publish(ch StateChange) {
	fields := []logx.Field{
		logx.String("from", ch.From.String()),
		logx.String("to", ch.To.String()),
		logx.Int("failures", ch.Failures),
	}
	if ch.Error != "" {
		fields = append(fields, logx.String("err", ch.Error))
	}
	switch ch.To {
	case StateErroring, StateWaiting:
		m.log.Warn("connection state changed", fields...)
	case StateConnected:
		m.log.Info("connection state changed", fields...)
	default:
		m.log.Debug("connection state changed", fields...)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: EventState, Time: ch.At, Data: ch})
	}
}
