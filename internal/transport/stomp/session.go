package stomp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	logx "roomnotify/pkg/logx"
)

// Session is one connected STOMP session. Subscribe and Close may be called
// from any goroutine while Serve reads on its own.
type Session struct {
	ws  *websocket.Conn
	log logx.Logger

	// gorilla/websocket allows one concurrent writer.
	wmu sync.Mutex

	sendEvery   time.Duration
	expectEvery time.Duration
	version     string

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(ws *websocket.Conn, log logx.Logger) *Session {
	return &Session{ws: ws, log: log, closed: make(chan struct{})}
}

// Version is the protocol version the broker agreed to.
func (s *Session) Version() string { return s.version }

func (s *Session) send(f *frame.Frame) error {
	b, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.write(b)
}

func (s *Session) write(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, b)
}

// Subscribe registers id for destination with automatic acknowledgement.
func (s *Session) Subscribe(id, destination string) error {
	f := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
	if err := s.send(f); err != nil {
		return fmt.Errorf("stomp: subscribe %s: %w", destination, err)
	}
	return nil
}

// Serve reads frames until the session ends, passing every MESSAGE to h on the
// calling goroutine. It returns nil when the broker closes the connection
// normally or Close was called, and an error for transport failures, missed
// heart-beats and ERROR frames.
func (s *Session) Serve(ctx context.Context, h func(Message)) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()
	if s.sendEvery > 0 {
		go s.heartbeatLoop(done)
	}

	for {
		if s.expectEvery > 0 {
			// Allow one missed beat plus jitter before declaring the broker dead.
			_ = s.ws.SetReadDeadline(time.Now().Add(2 * s.expectEvery))
		}
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("stomp: read: %w", err)
		}

		frames, err := decodeFrames(data)
		if err != nil {
			return fmt.Errorf("stomp: decode frame: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				if h != nil {
					h(Message{
						Destination:  f.Header.Get(frame.Destination),
						Subscription: f.Header.Get(frame.Subscription),
						MessageID:    f.Header.Get(frame.MessageId),
						ContentType:  f.Header.Get(frame.ContentType),
						Body:         f.Body,
					})
				}
			case frame.ERROR:
				return fmt.Errorf("%w: %s", ErrServer, errorText(f))
			case frame.RECEIPT:
			default:
				s.log.Debug("stomp frame ignored", logx.String("command", f.Command))
			}
		}
	}
}

func (s *Session) heartbeatLoop(done <-chan struct{}) {
	t := time.NewTicker(s.sendEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.closed:
			return
		case <-t.C:
			if err := s.write(heartbeat); err != nil {
				s.log.Debug("stomp heart-beat failed", logx.Err(err))
				return
			}
		}
	}
}

// Close sends DISCONNECT and a WebSocket close frame, then closes the socket.
// It is idempotent and safe to call concurrently with Serve.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if b, encErr := encodeFrame(frame.New(frame.DISCONNECT)); encErr == nil {
			_ = s.write(b)
		}

		s.wmu.Lock()
		close(s.closed)
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.ws.Close()
		s.wmu.Unlock()
	})
	return err
}
