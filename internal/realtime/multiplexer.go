package realtime

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"roomnotify/internal/decode"
	"roomnotify/internal/dedup"
	"roomnotify/internal/eventbus"
	"roomnotify/internal/notification"
	"roomnotify/internal/transport/stomp"
	logx "roomnotify/pkg/logx"
)

const (
	DefaultEntityPattern = "/topic/notificaciones/{id}"
	DefaultBroadcast     = "/topic/alerts"
)

// Topics names the two destinations subscribed on every connect.
type Topics struct {
	// EntityPattern is the per-viewer destination; "{id}" is replaced by the entity id.
	EntityPattern string
	Broadcast     string
}

func (t Topics) withDefaults() Topics {
	if strings.TrimSpace(t.EntityPattern) == "" {
		t.EntityPattern = DefaultEntityPattern
	}
	if strings.TrimSpace(t.Broadcast) == "" {
		t.Broadcast = DefaultBroadcast
	}
	return t
}

func (t Topics) Entity(id string) string {
	return strings.ReplaceAll(t.withDefaults().EntityPattern, "{id}", id)
}

type route struct {
	id   string
	dest string
	src  decode.Source
}

// Multiplexer subscribes the entity and broadcast topics on each new session
// and pushes every inbound frame through decoder → deduplicator → store.
type Multiplexer struct {
	topics  Topics
	decoder *decode.Decoder
	dedup   *dedup.Deduplicator
	store   *notification.Store
	bus     eventbus.Bus
	log     logx.Logger

	// malformed throttles "malformed payload" warnings.
	malformed *rate.Limiter

	mu     sync.RWMutex
	routes map[string]route
}

type MultiplexerOptions struct {
	Topics  Topics
	Decoder *decode.Decoder
	Dedup   *dedup.Deduplicator
	Store   *notification.Store
	Bus     eventbus.Bus
	Log     logx.Logger
	// MalformedLogPerSec caps malformed-payload warnings. Default 1.
	MalformedLogPerSec int
}

func NewMultiplexer(opts MultiplexerOptions) *Multiplexer {
	rps := opts.MalformedLogPerSec
	if rps <= 0 {
		rps = 1
	}
	return &Multiplexer{
		topics:    opts.Topics.withDefaults(),
		decoder:   opts.Decoder,
		dedup:     opts.Dedup,
		store:     opts.Store,
		bus:       opts.Bus,
		log:       opts.Log,
		malformed: rate.NewLimiter(rate.Limit(rps), rps),
		routes:    map[string]route{},
	}
}

// Subscribe opens both subscriptions on conn. They are independent: a failure
// on one is logged and the other still goes ahead.
func (x *Multiplexer) Subscribe(conn Conn, b Bootstrap) {
	want := []route{
		{id: "sub-0", dest: x.topics.Entity(b.EntityID), src: decode.SourceEntity},
		{id: "sub-1", dest: x.topics.Broadcast, src: decode.SourceBroadcast},
	}
	active := make(map[string]route, len(want))
	for _, rt := range want {
		if err := conn.Subscribe(rt.id, rt.dest); err != nil {
			x.log.Warn("subscribe failed", logx.String("topic", rt.dest), logx.String("kind", rt.src.String()), logx.Err(err))
			continue
		}
		active[rt.id] = rt
		x.log.Info("subscribed", logx.String("topic", rt.dest), logx.String("kind", rt.src.String()))
	}

	x.mu.Lock()
	x.routes = active
	x.mu.Unlock()
}

// Handle routes one MESSAGE frame. It never fails; undecodable payloads become
// fallback notifications.
func (x *Multiplexer) Handle(msg stomp.Message) {
	rt, ok := x.route(msg)
	if !ok {
		x.log.Debug("frame on unknown subscription", logx.String("subscription", msg.Subscription), logx.String("destination", msg.Destination))
		rt = route{dest: msg.Destination, src: decode.SourceEntity}
	}

	n, wellFormed := x.decoder.Decode(rt.src, msg.Body)
	n.Topic = rt.dest
	if !wellFormed && x.malformed.Allow() {
		x.log.Warn("malformed payload", logx.String("topic", rt.dest), logx.Int("bytes", len(msg.Body)))
	}
	x.Deliver(n)
}

// Deliver gates n through the deduplicator and appends it to the store when
// admitted. It reports whether n was admitted.
func (x *Multiplexer) Deliver(n notification.Notification) bool {
	admitted, ok := x.dedup.Accept(n)
	if !ok {
		x.log.Debug("duplicate suppressed", logx.String("message", n.Message))
		x.publish(EventSuppressed, n)
		return false
	}
	x.store.Append(admitted)
	x.publish(EventAdded, admitted)
	return true
}

// route resolves by subscription id, falling back to the destination header.
func (x *Multiplexer) route(msg stomp.Message) (route, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if rt, ok := x.routes[msg.Subscription]; ok {
		return rt, true
	}
	for _, rt := range x.routes {
		if rt.dest == msg.Destination {
			return rt, true
		}
	}
	return route{}, false
}

func (x *Multiplexer) publish(typ string, n notification.Notification) {
	if x.bus == nil {
		return
	}
	x.bus.Publish(eventbus.Event{Type: typ, Time: n.Timestamp, Data: n})
}
