// Package stomptest runs an in-process STOMP-over-WebSocket broker for tests.
package stomptest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broker accepts STOMP sessions, records subscriptions and lets tests publish.
type Broker struct {
	srv *httptest.Server

	mu        sync.Mutex
	conns     map[*conn]struct{}
	subs      []subscription
	auth      []string
	rejectMsg string
	heartBeat string
	connects  int
}

type subscription struct {
	c    *conn
	id   string
	dest string
}

type conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *conn) send(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func NewBroker() *Broker {
	b := &Broker{conns: map[*conn]struct{}{}, heartBeat: "0,0"}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// URL is the ws:// endpoint to dial.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *Broker) Close() {
	b.DropAll()
	b.srv.Close()
}

// Reject makes subsequent CONNECTs answer with an ERROR frame carrying msg.
// An empty msg accepts again.
func (b *Broker) Reject(msg string) {
	b.mu.Lock()
	b.rejectMsg = msg
	b.mu.Unlock()
}

// SetHeartBeat sets the heart-beat header returned in CONNECTED.
func (b *Broker) SetHeartBeat(v string) {
	b.mu.Lock()
	b.heartBeat = v
	b.mu.Unlock()
}

// Connects returns how many CONNECT frames were accepted or rejected.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// AuthHeaders returns the Authorization headers seen on WebSocket upgrades.
func (b *Broker) AuthHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auth...)
}

// Destinations returns the destinations of live subscriptions.
func (b *Broker) Destinations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.dest)
	}
	return out
}

// WaitSubscriptions blocks until at least n subscriptions are live.
func (b *Broker) WaitSubscriptions(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		got := len(b.subs)
		b.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Publish sends body as a MESSAGE to every subscription on dest and returns the
// number of deliveries.
func (b *Broker) Publish(dest string, body string) int {
	b.mu.Lock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.dest == dest {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	n := 0
	for i, s := range targets {
		f := frame.New(frame.MESSAGE,
			frame.Destination, dest,
			frame.Subscription, s.id,
			frame.MessageId, dest+"-"+string(rune('a'+i)),
			frame.ContentType, "application/json",
		)
		f.Body = []byte(body)
		if s.c.send(f) == nil {
			n++
		}
	}
	return n
}

// SendError pushes an ERROR frame to every live session.
func (b *Broker) SendError(msg string) {
	for _, c := range b.live() {
		_ = c.send(frame.New(frame.ERROR, frame.Message, msg))
	}
}

// DropAll closes every session with a normal WebSocket close.
func (b *Broker) DropAll() {
	for _, c := range b.live() {
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = c.ws.Close()
	}
}

func (b *Broker) live() []*conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		out = append(out, c)
	}
	return out
}

func (b *Broker) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	b.mu.Lock()
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		kept := b.subs[:0]
		for _, s := range b.subs {
			if s.c != c {
				kept = append(kept, s)
			}
		}
		b.subs = kept
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fr := frame.NewReader(bytes.NewReader(data))
		for {
			f, err := fr.Read()
			if err != nil {
				break
			}
			if f == nil {
				continue
			}
			if !b.dispatch(c, f) {
				return
			}
		}
	}
}

// dispatch handles one client frame and reports whether the session stays open.
func (b *Broker) dispatch(c *conn, f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT:
		b.mu.Lock()
		b.connects++
		reject := b.rejectMsg
		hb := b.heartBeat
		b.mu.Unlock()
		if reject != "" {
			_ = c.send(frame.New(frame.ERROR, frame.Message, reject))
			return false
		}
		_ = c.send(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, hb))
	case frame.SUBSCRIBE:
		b.mu.Lock()
		b.subs = append(b.subs, subscription{c: c, id: f.Header.Get(frame.Id), dest: f.Header.Get(frame.Destination)})
		b.mu.Unlock()
	case frame.DISCONNECT:
		if rid := f.Header.Get(frame.Receipt); rid != "" {
			_ = c.send(frame.New(frame.RECEIPT, frame.ReceiptId, rid))
		}
		return false
	}
	return true
}
