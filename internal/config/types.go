package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Viewer   ViewerConfig   `json:"viewer"`
	Realtime RealtimeConfig `json:"realtime"`
	Dedup    DedupConfig    `json:"dedup"`
	Console  ConsoleConfig  `json:"console"`
	Status   StatusConfig   `json:"status"`

	// Digest is optional; omitted means disabled.
	Digest *DigestConfig `json:"digest,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ViewerConfig is the credential handed over by the login flow.
// ROOMNOTIFY_TOKEN and ROOMNOTIFY_ENTITY_ID override the file values.
type ViewerConfig struct {
	Token    string `json:"token"` // bearer token (do not log)
	EntityID string `json:"entity_id"`
}

// RealtimeConfig controls the push connection.
//
// Defaults (when fields are omitted/zero):
//   - url: "ws://localhost:8080/ws-mantenimiento/websocket"
//   - entity_topic: "/topic/notificaciones/{id}"
//   - broadcast_topic: "/topic/alerts"
//   - reconnect_delay: "5s", cooldown: "30s", max_failures: 5
//   - dial_timeout: "10s"
//   - heartbeat_outgoing / heartbeat_incoming: "4s" ("0s" disables)
//   - malformed_log_per_sec: 1
type RealtimeConfig struct {
	URL            string `json:"url"`
	EntityTopic    string `json:"entity_topic,omitempty"`
	BroadcastTopic string `json:"broadcast_topic,omitempty"`

	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	Cooldown       string `json:"cooldown,omitempty"`
	MaxFailures    int    `json:"max_failures,omitempty"`
	DialTimeout    string `json:"dial_timeout,omitempty"`

	// Pointers so an explicit "0s" (disabled) differs from omitted (default 4s).
	HeartbeatOutgoing *string `json:"heartbeat_outgoing,omitempty"`
	HeartbeatIncoming *string `json:"heartbeat_incoming,omitempty"`

	MalformedLogPerSec int `json:"malformed_log_per_sec,omitempty"`
}

type DedupConfig struct {
	// Bucket is the fingerprint time bucket (default "10s").
	Bucket string `json:"bucket,omitempty"`
	// TTL is how long an admitted fingerprint blocks repeats (default "30s").
	TTL string `json:"ttl,omitempty"`
}

type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
	// Interactive reads panel commands (open/close/list/rm/clear) from stdin.
	Interactive bool `json:"interactive,omitempty"`
	// Timezone renders notification timestamps and drives the digest schedule. Empty means local.
	Timezone string `json:"timezone,omitempty"`
	// NoColor disables ANSI styling.
	NoColor bool `json:"no_color,omitempty"`
}

// DigestConfig logs a periodic summary of the notification list.
//
// Example:
//
//	"digest": { "enabled": true, "schedule": "*/15 * * * *" }
type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a 5-field cron spec or a descriptor like "@every 15m".
	Schedule string `json:"schedule"`
}

// StatusConfig controls the optional local HTTP status endpoint.
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:6061").
//   - A non-loopback addr requires Token or AllowInsecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}
