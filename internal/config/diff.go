package config

import (
	"reflect"
	"sort"
	"strings"

	logx "roomnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. The bearer token is never included, only
// whether it is set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Viewer.Token != newCfg.Viewer.Token ||
		strings.TrimSpace(oldCfg.Viewer.EntityID) != strings.TrimSpace(newCfg.Viewer.EntityID) {
		changed = append(changed, "viewer")
		attrs = append(attrs,
			logx.Bool("viewer.token_set", strings.TrimSpace(newCfg.Viewer.Token) != ""),
			logx.Bool("viewer.token_changed", oldCfg.Viewer.Token != newCfg.Viewer.Token),
			logx.String("viewer.entity_id", strings.TrimSpace(newCfg.Viewer.EntityID)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Realtime, newCfg.Realtime) {
		changed = append(changed, "realtime")
		rt := newCfg.Realtime
		attrs = append(attrs,
			logx.String("realtime.url", strings.TrimSpace(rt.URL)),
			logx.String("realtime.reconnect_delay", strings.TrimSpace(rt.ReconnectDelay)),
			logx.String("realtime.cooldown", strings.TrimSpace(rt.Cooldown)),
			logx.Int("realtime.max_failures", rt.MaxFailures),
		)
	}

	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.bucket", strings.TrimSpace(newCfg.Dedup.Bucket)),
			logx.String("dedup.ttl", strings.TrimSpace(newCfg.Dedup.TTL)),
		)
	}

	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
		attrs = append(attrs,
			logx.Bool("console.enabled", newCfg.Console.Enabled),
			logx.String("console.timezone", strings.TrimSpace(newCfg.Console.Timezone)),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", strings.TrimSpace(newCfg.Status.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(newCfg.Status.Token) != ""),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}

	oldD, newD := derefDigest(oldCfg.Digest), derefDigest(newCfg.Digest)
	if oldD != newD {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newD.Enabled),
			logx.String("digest.schedule", strings.TrimSpace(newD.Schedule)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDigest(d *DigestConfig) DigestConfig {
	if d == nil {
		return DigestConfig{}
	}
	return *d
}
