package app

import (
	"context"
	"strings"
	"time"

	"roomnotify/internal/config"
	"roomnotify/internal/notification"
	logx "roomnotify/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func restartNotice(sections []string) string {
	return "Settings changed (" + strings.Join(sections, ", ") + "); restart to apply"
}

// applyConfig applies what can change live: logging, the viewer credential
// (restarts the connection), the digest schedule and the status server.
// Realtime, dedup and console changes are logged as needing a restart and
// surface as a warning notification.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	a.logs.Apply(mapLogConfig(newCfg))

	var pending []string
	for _, s := range sections {
		switch s {
		case "viewer":
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := a.rt.Stop(stopCtx); err != nil {
				a.log.Warn("connection stop before credential change", logx.Err(err))
			}
			cancel()
			a.rt.Start(mapBootstrap(newCfg))
			a.log.Info("viewer changed; connection restarted")
		case "digest":
			if err := a.digest.Apply(newCfg.Digest); err != nil {
				a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
			}
		case "status":
			a.status.Reconfigure(ctx, mapStatusConfig(newCfg))
		case "realtime", "dedup", "console":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.rt.Deliver(notification.Notification{
			Message:  restartNotice(pending),
			Category: notification.CategoryWarning,
		})
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
