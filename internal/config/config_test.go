package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "roomnotify/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newTestManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.SetEnvLookup(noEnv)
	return m
}

const sampleYAML = `
logging:
  level: debug
  console: true
viewer:
  token: s3cret
  entity_id: "123"
realtime:
  url: ws://localhost:8080/ws-mantenimiento/websocket
  reconnect_delay: 5s
  heartbeat_outgoing: 0s
dedup:
  ttl: 30s
console:
  enabled: true
  timezone: UTC
digest:
  enabled: true
  schedule: "@every 15m"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "roomnotify.yaml", sampleYAML)

	cfg, err := newTestManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "s3cret", cfg.Viewer.Token)
	assert.Equal(t, "123", cfg.Viewer.EntityID)
	assert.Equal(t, "5s", cfg.Realtime.ReconnectDelay)
	require.NotNil(t, cfg.Realtime.HeartbeatOutgoing)
	assert.Equal(t, "0s", *cfg.Realtime.HeartbeatOutgoing)
	assert.Nil(t, cfg.Realtime.HeartbeatIncoming)
	require.NotNil(t, cfg.Digest)
	assert.Equal(t, "@every 15m", cfg.Digest.Schedule)
	assert.Equal(t, time.UTC, cfg.Console.Location())
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "roomnotify.json", `{"viewer":{"token":"t","entity_id":"9"},"console":{"enabled":false}}`)

	cfg, err := newTestManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "9", cfg.Viewer.EntityID)
	assert.Nil(t, cfg.Digest)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"viewer":{"tokn":"x"}}`, "unknown field"},
		{"unknown yaml field", "c.yaml", "realtime:\n  retries: 3\n", "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yml", "viewer: [", "yaml unmarshal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tc.file, tc.body)
			_, err := newTestManager(p).Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEmptyYAMLIsEmptyConfig(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "c.yaml", "")

	cfg, err := newTestManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestEnvOverridesViewer(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "c.json", `{"viewer":{"token":"file","entity_id":"1"}}`)

	m := NewConfigManager(p)
	m.SetEnvLookup(func(k string) (string, bool) {
		switch k {
		case EnvToken:
			return " from-env ", true
		case EnvEntityID:
			return "", true
		}
		return "", false
	})
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Viewer.Token)
	assert.Equal(t, "1", cfg.Viewer.EntityID, "blank env values do not clear the file value")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	zero := "0s"
	bad := "soon"

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty is valid", Config{}, ""},
		{"zero heartbeat is valid", Config{Realtime: RealtimeConfig{HeartbeatIncoming: &zero}}, ""},
		{"http url", Config{Realtime: RealtimeConfig{URL: "http://host/ws"}}, "scheme must be ws or wss"},
		{"no host", Config{Realtime: RealtimeConfig{URL: "ws:///ws"}}, "missing host"},
		{"pattern without id", Config{Realtime: RealtimeConfig{EntityTopic: "/topic/x"}}, "must contain {id}"},
		{"negative failures", Config{Realtime: RealtimeConfig{MaxFailures: -1}}, "max_failures"},
		{"bad delay", Config{Realtime: RealtimeConfig{ReconnectDelay: "fast"}}, "realtime.reconnect_delay"},
		{"negative ttl", Config{Dedup: DedupConfig{TTL: "-1s"}}, "dedup.ttl"},
		{"tiny bucket", Config{Dedup: DedupConfig{Bucket: "10us"}}, "at least 1ms"},
		{"bad heartbeat", Config{Realtime: RealtimeConfig{HeartbeatOutgoing: &bad}}, "heartbeat_outgoing"},
		{"bad timezone", Config{Console: ConsoleConfig{Timezone: "Mars/Olympus"}}, "console.timezone"},
		{"digest without schedule", Config{Digest: &DigestConfig{Enabled: true}}, "digest.schedule is required"},
		{"bad cron", Config{Digest: &DigestConfig{Enabled: true, Schedule: "every day"}}, "digest.schedule"},
		{"bad status addr", Config{Status: StatusConfig{Enabled: true, Addr: "6061"}}, "status.addr"},
		{"disabled digest ignored", Config{Digest: &DigestConfig{Schedule: "nonsense"}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseOptionalDuration(t *testing.T) {
	t.Parallel()
	zero := "0s"
	two := "2s"

	d, err := ParseOptionalDuration("x", nil, 4*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, d)

	d, err = ParseOptionalDuration("x", &zero, 4*time.Second)
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseOptionalDuration("x", &two, 4*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Viewer: ViewerConfig{Token: "old-secret", EntityID: "1"}}
	newCfg := &Config{
		Viewer:  ViewerConfig{Token: "new-secret", EntityID: "1"},
		Logging: LoggingConfig{Level: "debug"},
		Digest:  &DigestConfig{Enabled: true, Schedule: "@hourly"},
	}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"digest", "logging", "viewer"}, sections)
	assert.NotEmpty(t, attrs)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	assert.Contains(t, buf.String(), `"viewer.token_changed":true`)
	assert.NotContains(t, buf.String(), "secret")

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"viewer":{"entity_id":"1"}}`)

	m := newTestManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(2)
	defer m.Unsubscribe(sub)

	require.NoError(t, m.Reload(context.Background()))
	assert.Len(t, sub, 0, "unchanged content is not republished")

	writeFile(t, dir, "c.json", `{"viewer":{"entity_id":"2"}}`)
	require.NoError(t, m.Reload(context.Background()))
	require.Len(t, sub, 1)
	assert.Equal(t, "2", (<-sub).Viewer.EntityID)
	assert.Equal(t, "2", m.Get().Viewer.EntityID)

	writeFile(t, dir, "c.json", `{"realtime":{"url":"ftp://x"}}`)
	require.ErrorIs(t, m.Reload(context.Background()), ErrInvalid)
	assert.Equal(t, "2", m.Get().Viewer.EntityID, "rejected reload keeps the committed config")
}

func TestWatchPicksUpFileChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", "viewer:\n  entity_id: \"1\"\n")

	m := newTestManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher may not be registered yet; keep rewriting until it notices.
	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-sub:
			return true
		default:
			writeFile(t, dir, "c.yaml", "viewer:\n  entity_id: \"7\"\n")
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
	assert.Equal(t, "7", got.Viewer.EntityID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := newTestManager(filepath.Join(t.TempDir(), "missing.json"))
	sub := m.Subscribe(1)
	m.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	m.Unsubscribe(sub)
}
