package stomp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomnotify/internal/transport/stomp/stomptest"
)

func dial(t *testing.T, b *stomptest.Broker, token string) *Session {
	t.Helper()
	d := &Dialer{URL: b.URL(), HandshakeTimeout: 2 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := d.Dial(ctx, token)
	require.NoError(t, err)
	return s
}

func serve(s *Session) (<-chan Message, <-chan error) {
	msgs := make(chan Message, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Serve(context.Background(), func(m Message) { msgs <- m })
	}()
	return msgs, errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestDialSubscribeReceive(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	s := dial(t, b, "secret")
	assert.Equal(t, "1.2", s.Version())
	assert.Equal(t, []string{"Bearer secret"}, b.AuthHeaders())

	require.NoError(t, s.Subscribe("sub-0", "/topic/alerts"))
	msgs, errc := serve(s)
	require.True(t, b.WaitSubscriptions(1, 2*time.Second))

	require.Equal(t, 1, b.Publish("/topic/alerts", `{"message":"hi"}`))
	select {
	case m := <-msgs:
		assert.Equal(t, "/topic/alerts", m.Destination)
		assert.Equal(t, "sub-0", m.Subscription)
		assert.Equal(t, `{"message":"hi"}`, string(m.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	require.NoError(t, s.Close())
	assert.NoError(t, waitErr(t, errc))
	assert.ErrorIs(t, s.Subscribe("sub-1", "/topic/x"), ErrClosed)
}

func TestDialRejectedByBroker(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()
	b.Reject("invalid token")

	d := &Dialer{URL: b.URL(), HandshakeTimeout: 2 * time.Second}
	_, err := d.Dial(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))
	assert.Contains(t, err.Error(), "invalid token")
}

func TestDialUnreachable(t *testing.T) {
	b := stomptest.NewBroker()
	url := b.URL()
	b.Close()

	d := &Dialer{URL: url, HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "tok")
	require.Error(t, err)
}

func TestServeErrorFrame(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	s := dial(t, b, "tok")
	defer s.Close()
	_, errc := serve(s)

	b.SendError("boom")
	err := waitErr(t, errc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))
}

func TestServeRemoteCloseIsClean(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	s := dial(t, b, "tok")
	defer s.Close()
	_, errc := serve(s)

	b.DropAll()
	assert.NoError(t, waitErr(t, errc))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	s := dial(t, b, "tok")
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, nil) }()

	cancel()
	assert.NoError(t, waitErr(t, errc))
}

func TestHeartBeatNegotiation(t *testing.T) {
	t.Parallel()
	x, y := parseHeartBeat("4000,10000")
	assert.Equal(t, 4*time.Second, x)
	assert.Equal(t, 10*time.Second, y)

	x, y = parseHeartBeat("garbage")
	assert.Zero(t, x)
	assert.Zero(t, y)

	assert.Equal(t, 10*time.Second, negotiate(4*time.Second, 10*time.Second))
	assert.Zero(t, negotiate(0, 10*time.Second))
	assert.Zero(t, negotiate(4*time.Second, 0))
	assert.Equal(t, "4000,4000", formatHeartBeat(4*time.Second, 4*time.Second))
}

func TestHeartBeatsAreSent(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()
	b.SetHeartBeat("20,0")

	d := &Dialer{URL: b.URL(), HeartbeatOutgoing: 20 * time.Millisecond}
	s, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 20*time.Millisecond, s.sendEvery)
	assert.Zero(t, s.expectEvery)
}

func TestDecodeFramesSkipsHeartBeats(t *testing.T) {
	t.Parallel()
	b, err := encodeFrame(frame.New(frame.MESSAGE, frame.Destination, "/topic/a"))
	require.NoError(t, err)
	frames, err := decodeFrames(append([]byte("\n\n"), b...))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, frame.MESSAGE, frames[0].Command)

	frames, err = decodeFrames([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)
}
