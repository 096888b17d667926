package realtime

import (
	"context"
	"errors"
	"time"

	"roomnotify/internal/decode"
	"roomnotify/internal/dedup"
	"roomnotify/internal/eventbus"
	"roomnotify/internal/notification"
	"roomnotify/internal/runtime/clock"
	logx "roomnotify/pkg/logx"
)

type Options struct {
	Manager Config
	Topics  Topics

	DedupBucket time.Duration
	DedupTTL    time.Duration

	MalformedLogPerSec int

	Dialer Dialer
	Clock  clock.Clock
	Log    logx.Logger
	Bus    eventbus.Bus
}

// Subsystem is the owned instance the presentation layer talks to: explicit
// Start/Stop plus read/clear access to the notification list.
type Subsystem struct {
	mgr   *Manager
	mux   *Multiplexer
	store *notification.Store
	dedup *dedup.Deduplicator
	bus   eventbus.Bus
	clk   clock.Clock
	log   logx.Logger
}

func NewSubsystem(opts Options) (*Subsystem, error) {
	if opts.Dialer == nil {
		return nil, errors.New("realtime: dialer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}

	store := notification.NewStore()
	dd := dedup.New(dedup.Options{
		Bucket: opts.DedupBucket,
		TTL:    opts.DedupTTL,
		Clock:  opts.Clock,
		Log:    opts.Log.With(logx.String("comp", "dedup")),
	})
	mux := NewMultiplexer(MultiplexerOptions{
		Topics:             opts.Topics,
		Decoder:            decode.New(opts.Clock),
		Dedup:              dd,
		Store:              store,
		Bus:                opts.Bus,
		Log:                opts.Log.With(logx.String("comp", "multiplexer")),
		MalformedLogPerSec: opts.MalformedLogPerSec,
	})
	mgr := NewManager(opts.Manager, opts.Dialer, mux,
		WithClock(opts.Clock),
		WithLogger(opts.Log.With(logx.String("comp", "connection"))),
		WithBus(opts.Bus),
	)

	return &Subsystem{
		mgr:   mgr,
		mux:   mux,
		store: store,
		dedup: dd,
		bus:   opts.Bus,
		clk:   opts.Clock,
		log:   opts.Log,
	}, nil
}

func (s *Subsystem) Start(b Bootstrap) { s.mgr.Start(b) }

// Stop deactivates the connection and cancels every pending timer, both the
// reconnect/cooldown timer and the fingerprint expiries. Notifications already
// in the store are kept; Start may be called again.
func (s *Subsystem) Stop(ctx context.Context) error {
	err := s.mgr.Stop(ctx)
	s.dedup.Reset()
	return err
}

// Close stops the subsystem for good and drops the notification list.
func (s *Subsystem) Close(ctx context.Context) error {
	err := s.mgr.Stop(ctx)
	s.dedup.Close()
	s.store.ClearAll()
	return err
}

func (s *Subsystem) State() State           { return s.mgr.State() }
func (s *Subsystem) Err() error             { return s.mgr.Err() }
func (s *Subsystem) Count() int             { return s.store.Count() }
func (s *Subsystem) Unread() int            { return s.store.Unread() }
func (s *Subsystem) SetPanelOpen(open bool) { s.store.SetPanelOpen(open) }
func (s *Subsystem) PanelOpen() bool        { return s.store.PanelOpen() }

// Status is a point-in-time view for health reporting.
type Status struct {
	State         State  `json:"state"`
	Failures      int    `json:"failures"`
	Error         string `json:"error,omitempty"`
	Notifications int    `json:"notifications"`
	Unread        int    `json:"unread"`
	PanelOpen     bool   `json:"panel_open"`
}

func (s *Subsystem) Status() Status {
	st := Status{
		State:         s.mgr.State(),
		Failures:      s.mgr.Failures(),
		Notifications: s.store.Count(),
		Unread:        s.store.Unread(),
		PanelOpen:     s.store.PanelOpen(),
	}
	if err := s.mgr.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Notifications returns a most-recent-first copy of the list.
func (s *Subsystem) Notifications() []notification.Notification { return s.store.List() }

// Remove deletes one notification. Unknown ids are a no-op.
func (s *Subsystem) Remove(id string) bool {
	n, ok := s.store.Get(id)
	if !ok || !s.store.Remove(id) {
		return false
	}
	s.bus.Publish(eventbus.Event{Type: EventRemoved, Time: s.clk.Now(), Data: n})
	return true
}

func (s *Subsystem) ClearAll() int {
	removed := s.store.ClearAll()
	s.bus.Publish(eventbus.Event{Type: EventCleared, Time: s.clk.Now(), Data: removed})
	return removed
}

// Deliver injects a locally produced notification through the same
// duplicate gate as pushed ones.
func (s *Subsystem) Deliver(n notification.Notification) bool {
	if n.Timestamp.IsZero() {
		n.Timestamp = s.clk.Now()
	}
	if n.Category == "" {
		n.Category = notification.CategoryInfo
	}
	return s.mux.Deliver(n)
}

// Subscribe returns presentation events: state changes, additions, removals
// and clears. Suppressed duplicates are not included.
func (s *Subsystem) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return s.bus.Subscribe(buffer, EventState, EventAdded, EventRemoved, EventCleared)
}
