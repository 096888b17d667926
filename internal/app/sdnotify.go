package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"roomnotify/internal/realtime"
	logx "roomnotify/pkg/logx"
)

// sdNotifier reports readiness, connection status and watchdog pings to
// systemd. Every call is a no-op when NOTIFY_SOCKET is unset.
type sdNotifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:  log,
		send: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()     { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()  { n.notify(daemon.SdNotifyStopping) }
func (n *sdNotifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

func (n *sdNotifier) Status(ch realtime.StateChange) {
	n.notify("STATUS=" + statusLine(ch))
}

func statusLine(ch realtime.StateChange) string {
	s := "connection " + ch.To.String()
	if ch.Failures > 0 && ch.To != realtime.StateConnected {
		s += fmt.Sprintf(" (failures=%d)", ch.Failures)
	}
	if ch.Error != "" {
		s += ": " + ch.Error
	}
	return s
}

// watchdog pings at half the WatchdogSec interval until ctx ends.
func (n *sdNotifier) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("sd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
