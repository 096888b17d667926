package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomnotify/internal/notification"
	"roomnotify/internal/runtime/clock"
	"roomnotify/internal/transport/stomp"
	"roomnotify/internal/transport/stomp/stomptest"
)

func newBrokerSubsystem(t *testing.T) (*Subsystem, *stomptest.Broker, *clock.Fake) {
	t.Helper()
	b := stomptest.NewBroker()
	t.Cleanup(b.Close)

	clk := clock.NewFake(t0)
	sub, err := NewSubsystem(Options{
		Dialer: STOMPDialer(&stomp.Dialer{URL: b.URL(), HandshakeTimeout: 2 * time.Second}),
		Clock:  clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close(context.Background()) })
	return sub, b, clk
}

func TestNewSubsystemRequiresDialer(t *testing.T) {
	t.Parallel()

	_, err := NewSubsystem(Options{})
	require.Error(t, err)
}

func TestSubsystemEndToEnd(t *testing.T) {
	t.Parallel()
	sub, b, _ := newBrokerSubsystem(t)
	events, unsub := sub.Subscribe(64)
	defer unsub()

	sub.Start(Bootstrap{Token: "secret", EntityID: "123"})
	require.Eventually(t, func() bool { return sub.State() == StateConnected }, waitFor, tick)
	require.True(t, b.WaitSubscriptions(2, waitFor))
	assert.ElementsMatch(t, []string{"/topic/notificaciones/123", "/topic/alerts"}, b.Destinations())
	assert.Equal(t, []string{"Bearer secret"}, b.AuthHeaders())

	require.Equal(t, 1, b.Publish("/topic/notificaciones/123",
		`{"consultorioId":7,"fechaInicio":[2024,3,10,9,30],"fechaFin":[2024,3,10,11,0],"motivo":"Filter replacement","coordinadorUserId":55}`))
	require.Eventually(t, func() bool { return sub.Count() == 1 }, waitFor, tick)

	n := sub.Notifications()[0]
	assert.Equal(t, `Maintenance in room 7: "Filter replacement" scheduled from 10/03/2024 09:30 to 10/03/2024 11:00`, n.Message)
	assert.Equal(t, notification.CategoryWarning, n.Category)
	assert.Equal(t, 1, sub.Unread())

	sub.SetPanelOpen(true)
	assert.Equal(t, 0, sub.Unread())
	assert.Equal(t, Status{State: StateConnected, Notifications: 1, PanelOpen: true}, sub.Status())

	var added int
	for added == 0 {
		select {
		case ev := <-events:
			if ev.Type == EventAdded {
				added++
			}
		case <-time.After(waitFor):
			t.Fatal("no notification.added event")
		}
	}
}

func TestSubsystemSuppressesRepeatedBroadcast(t *testing.T) {
	t.Parallel()
	sub, b, clk := newBrokerSubsystem(t)

	sub.Start(Bootstrap{Token: "secret", EntityID: "123"})
	require.True(t, b.WaitSubscriptions(2, waitFor))

	require.Equal(t, 1, b.Publish("/topic/alerts", `{"message":"System alert","type":"error"}`))
	require.Eventually(t, func() bool { return sub.Count() == 1 }, waitFor, tick)

	clk.Advance(2 * time.Second)
	require.Equal(t, 1, b.Publish("/topic/alerts", `{"message":"System alert","type":"error"}`))
	// A later distinct frame proves the repeat was already processed.
	require.Equal(t, 1, b.Publish("/topic/alerts", `{"message":"Backup finished","type":"success"}`))
	require.Eventually(t, func() bool { return sub.Count() == 2 }, waitFor, tick)

	msgs := []string{}
	for _, n := range sub.Notifications() {
		msgs = append(msgs, n.Message)
	}
	assert.Equal(t, []string{"Backup finished", "System alert"}, msgs)
}

func TestSubsystemRemoveAndClear(t *testing.T) {
	t.Parallel()
	sub, _, clk := newBrokerSubsystem(t)

	require.True(t, sub.Deliver(notification.Notification{Message: "one"}))
	clk.Advance(time.Second)
	require.True(t, sub.Deliver(notification.Notification{Message: "two", Category: notification.CategorySuccess}))
	require.Equal(t, 2, sub.Unread())

	first := sub.Notifications()[1]
	assert.Equal(t, notification.CategoryInfo, first.Category)
	assert.True(t, sub.Remove(first.ID))
	assert.False(t, sub.Remove(first.ID))
	assert.False(t, sub.Remove("missing"))
	assert.Equal(t, 1, sub.Count())
	assert.Equal(t, 1, sub.Unread())

	assert.Equal(t, 1, sub.ClearAll())
	assert.Equal(t, 0, sub.Count())
	assert.Equal(t, 0, sub.Unread())
}

func TestSubsystemReconnectsAfterBrokerDrop(t *testing.T) {
	t.Parallel()
	sub, b, clk := newBrokerSubsystem(t)

	sub.Start(Bootstrap{Token: "secret", EntityID: "123"})
	require.True(t, b.WaitSubscriptions(2, waitFor))
	require.Eventually(t, func() bool { return sub.State() == StateConnected }, waitFor, tick)

	b.DropAll()
	require.Eventually(t, func() bool { return sub.State() == StateDisconnected && clk.Pending() == 1 }, waitFor, tick)

	clk.Advance(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return sub.State() == StateConnected }, waitFor, tick)
	require.True(t, b.WaitSubscriptions(2, waitFor))
	assert.Equal(t, 2, b.Connects())
}

func TestSubsystemStopCancelsTimers(t *testing.T) {
	t.Parallel()
	sub, b, clk := newBrokerSubsystem(t)

	sub.Start(Bootstrap{Token: "secret", EntityID: "123"})
	require.True(t, b.WaitSubscriptions(2, waitFor))
	require.Equal(t, 1, b.Publish("/topic/alerts", `{"message":"System alert"}`))
	require.Eventually(t, func() bool { return sub.Count() == 1 && clk.Pending() == 1 }, waitFor, tick)

	require.NoError(t, sub.Stop(context.Background()))
	assert.Equal(t, StateIdle, sub.State())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 1, sub.Count(), "stop keeps the list")
}
