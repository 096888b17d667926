package app

import (
	"strings"
	"time"

	"roomnotify/internal/config"
	"roomnotify/internal/observability/status"
	"roomnotify/internal/realtime"
	"roomnotify/internal/transport/stomp"
	logx "roomnotify/pkg/logx"
)

const (
	defaultURL       = "ws://localhost:8080/ws-mantenimiento/websocket"
	defaultHeartbeat = 4 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapBootstrap(cfg *config.Config) realtime.Bootstrap {
	return realtime.Bootstrap{
		Token:    strings.TrimSpace(cfg.Viewer.Token),
		EntityID: strings.TrimSpace(cfg.Viewer.EntityID),
	}
}

// mapRealtimeOptions turns the realtime, dedup and console sections into
// subsystem options. Dialer, clock, logger and bus are left to the caller.
func mapRealtimeOptions(cfg *config.Config) (realtime.Options, *stomp.Dialer, error) {
	rt := cfg.Realtime

	reconnect, err := config.ParseDurationOrDefault("realtime.reconnect_delay", rt.ReconnectDelay, realtime.DefaultReconnectDelay)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	cooldown, err := config.ParseDurationOrDefault("realtime.cooldown", rt.Cooldown, realtime.DefaultCooldown)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	dialTimeout, err := config.ParseDurationOrDefault("realtime.dial_timeout", rt.DialTimeout, realtime.DefaultDialTimeout)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	hbOut, err := config.ParseOptionalDuration("realtime.heartbeat_outgoing", rt.HeartbeatOutgoing, defaultHeartbeat)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	hbIn, err := config.ParseOptionalDuration("realtime.heartbeat_incoming", rt.HeartbeatIncoming, defaultHeartbeat)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	bucket, err := config.ParseDurationField("dedup.bucket", cfg.Dedup.Bucket)
	if err != nil {
		return realtime.Options{}, nil, err
	}
	ttl, err := config.ParseDurationField("dedup.ttl", cfg.Dedup.TTL)
	if err != nil {
		return realtime.Options{}, nil, err
	}

	url := strings.TrimSpace(rt.URL)
	if url == "" {
		url = defaultURL
	}
	dialer := &stomp.Dialer{
		URL:               url,
		HandshakeTimeout:  dialTimeout,
		HeartbeatOutgoing: hbOut,
		HeartbeatIncoming: hbIn,
	}

	return realtime.Options{
		Manager: realtime.Config{
			ReconnectDelay: reconnect,
			Cooldown:       cooldown,
			MaxFailures:    rt.MaxFailures,
			DialTimeout:    dialTimeout,
		},
		Topics: realtime.Topics{
			EntityPattern: strings.TrimSpace(rt.EntityTopic),
			Broadcast:     strings.TrimSpace(rt.BroadcastTopic),
		},
		DedupBucket:        bucket,
		DedupTTL:           ttl,
		MalformedLogPerSec: rt.MalformedLogPerSec,
	}, dialer, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	st := cfg.Status
	return status.Config{
		Enabled:       st.Enabled,
		Addr:          strings.TrimSpace(st.Addr),
		Token:         strings.TrimSpace(st.Token),
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  60 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}
