// Package stomp is a minimal STOMP 1.2 client over a WebSocket connection:
// CONNECT with bearer auth and heart-beat negotiation, SUBSCRIBE, MESSAGE
// delivery and orderly DISCONNECT. It is what the realtime connection manager
// dials; reconnect policy lives there, not here.
package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	logx "roomnotify/pkg/logx"
)

var (
	ErrHandshake = errors.New("stomp: handshake failed")
	// ErrServer wraps a STOMP ERROR frame sent by the broker.
	ErrServer = errors.New("stomp: server error")
	ErrClosed = errors.New("stomp: session closed")
)

const (
	acceptVersion = "1.2,1.1,1.0"
	writeTimeout  = 10 * time.Second
)

// Message is one MESSAGE frame delivered on a subscription.
type Message struct {
	Destination  string
	Subscription string
	MessageID    string
	ContentType  string
	Body         []byte
}

type Dialer struct {
	// URL is the broker's WebSocket endpoint (ws:// or wss://).
	URL              string
	HandshakeTimeout time.Duration
	// HeartbeatOutgoing/Incoming are the intervals offered in CONNECT. Zero disables.
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	Log               logx.Logger
}

// Dial opens the WebSocket, performs the STOMP CONNECT exchange and returns a
// ready session. The bearer token goes both on the HTTP upgrade and in CONNECT.
func (d *Dialer) Dial(ctx context.Context, token string) (*Session, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("stomp: parse url: %w", err)
	}
	hto := d.HandshakeTimeout
	if hto <= 0 {
		hto = 10 * time.Second
	}

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	wsd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: hto,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}
	ws, _, err := wsd.DialContext(ctx, d.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("stomp: dial %s: %w", u.Redacted(), err)
	}

	headers := []string{
		frame.AcceptVersion, acceptVersion,
		frame.Host, u.Hostname(),
		frame.HeartBeat, formatHeartBeat(d.HeartbeatOutgoing, d.HeartbeatIncoming),
	}
	if token != "" {
		headers = append(headers, "Authorization", "Bearer "+token)
	}

	s := newSession(ws, d.Log)
	if err := s.send(frame.New(frame.CONNECT, headers...)); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: send CONNECT: %v", ErrHandshake, err)
	}

	deadline := time.Now().Add(hto)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = ws.SetReadDeadline(deadline)
	connected, err := s.readConnected()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	sx, sy := parseHeartBeat(connected.Header.Get(frame.HeartBeat))
	s.sendEvery = negotiate(d.HeartbeatOutgoing, sy)
	s.expectEvery = negotiate(d.HeartbeatIncoming, sx)
	s.version = connected.Header.Get(frame.Version)

	s.log.Debug("stomp session established",
		logx.String("version", s.version),
		logx.Duration("send_every", s.sendEvery),
		logx.Duration("expect_every", s.expectEvery),
	)
	return s, nil
}

func (s *Session) readConnected() (*frame.Frame, error) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: read CONNECTED: %v", ErrHandshake, err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrHandshake, err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				return f, nil
			case frame.ERROR:
				return nil, fmt.Errorf("%w: %s", ErrServer, errorText(f))
			default:
				return nil, fmt.Errorf("%w: unexpected %s frame", ErrHandshake, f.Command)
			}
		}
	}
}

func formatHeartBeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// parseHeartBeat reads "cx,cy" in milliseconds. Missing or malformed values are zero.
func parseHeartBeat(v string) (time.Duration, time.Duration) {
	a, b, ok := strings.Cut(strings.TrimSpace(v), ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	y, err2 := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

// negotiate applies the STOMP rule: zero on either side disables, otherwise the larger wins.
func negotiate(ours, theirs time.Duration) time.Duration {
	if ours <= 0 || theirs <= 0 {
		return 0
	}
	if ours > theirs {
		return ours
	}
	return theirs
}

func errorText(f *frame.Frame) string {
	msg := f.Header.Get(frame.Message)
	if body := strings.TrimSpace(string(f.Body)); body != "" {
		if msg != "" {
			return msg + ": " + body
		}
		return body
	}
	if msg == "" {
		return "unknown error"
	}
	return msg
}
