package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	EnvToken    = "ROOMNOTIFY_TOKEN"
	EnvEntityID = "ROOMNOTIFY_ENTITY_ID"
)

var ErrInvalid = errors.New("invalid config")

// ApplyEnv overlays the viewer credential from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Viewer.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvEntityID); ok && strings.TrimSpace(v) != "" {
		cfg.Viewer.EntityID = strings.TrimSpace(v)
	}
}

// Validate rejects values that cannot be mapped to runtime settings. A missing
// viewer credential is not a config error; the connection manager reports it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	rt := cfg.Realtime
	if u := strings.TrimSpace(rt.URL); u != "" {
		pu, err := url.Parse(u)
		switch {
		case err != nil:
			add(fmt.Errorf("realtime.url: %w", err))
		case pu.Scheme != "ws" && pu.Scheme != "wss":
			add(fmt.Errorf("realtime.url: scheme must be ws or wss, got %q", pu.Scheme))
		case pu.Host == "":
			add(fmt.Errorf("realtime.url: missing host"))
		}
	}
	if p := strings.TrimSpace(rt.EntityTopic); p != "" && !strings.Contains(p, "{id}") {
		add(fmt.Errorf("realtime.entity_topic: pattern %q must contain {id}", p))
	}
	if rt.MaxFailures < 0 {
		add(fmt.Errorf("realtime.max_failures must be >= 0"))
	}
	if rt.MalformedLogPerSec < 0 {
		add(fmt.Errorf("realtime.malformed_log_per_sec must be >= 0"))
	}
	for _, f := range [][2]string{
		{"realtime.reconnect_delay", rt.ReconnectDelay},
		{"realtime.cooldown", rt.Cooldown},
		{"realtime.dial_timeout", rt.DialTimeout},
		{"dedup.bucket", cfg.Dedup.Bucket},
		{"dedup.ttl", cfg.Dedup.TTL},
	} {
		_, err := ParseDurationField(f[0], f[1])
		add(err)
	}
	_, err := ParseOptionalDuration("realtime.heartbeat_outgoing", rt.HeartbeatOutgoing, 0)
	add(err)
	_, err = ParseOptionalDuration("realtime.heartbeat_incoming", rt.HeartbeatIncoming, 0)
	add(err)

	if b, err := ParseDurationField("dedup.bucket", cfg.Dedup.Bucket); err == nil && b > 0 && b < time.Millisecond {
		add(fmt.Errorf("dedup.bucket must be at least 1ms"))
	}

	if tz := strings.TrimSpace(cfg.Console.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("console.timezone: invalid %q: %w", tz, err))
		}
	}

	if st := cfg.Status; st.Enabled {
		if a := strings.TrimSpace(st.Addr); a != "" {
			if _, _, err := net.SplitHostPort(a); err != nil {
				add(fmt.Errorf("status.addr: %w", err))
			}
		}
	}

	if d := cfg.Digest; d != nil && d.Enabled {
		if strings.TrimSpace(d.Schedule) == "" {
			add(fmt.Errorf("digest.schedule is required when digest.enabled=true"))
		} else if _, err := cron.ParseStandard(d.Schedule); err != nil {
			add(fmt.Errorf("digest.schedule: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Location resolves console.timezone, falling back to time.Local.
func (c ConsoleConfig) Location() *time.Location {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
