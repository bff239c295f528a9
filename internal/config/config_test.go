package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := write(t, "caretree.yaml", `
server:
  addr: ":9090"
  read_timeout: 5s
  max_batch: "50"
store:
  backend: redis
  protocol_source: loam
redis:
  addr: redis:6379
  ttl: 720h
engine:
  max_hops: 64
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset keys keep their default")
	assert.Equal(t, 50, cfg.Server.MaxBatch)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, SourceLoam, cfg.Store.ProtocolSource)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 720*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 64, cfg.Engine.MaxHops)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOML(t *testing.T) {
	path := write(t, "caretree.toml", `
[offline]
server = "https://triage.example"
operator_id = "nurse-a"
sync_timeout = "10s"

[log]
level = "debug"
format = "json"
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "https://triage.example", cfg.Offline.Server)
	assert.Equal(t, "nurse-a", cfg.Offline.OperatorID)
	assert.Equal(t, 10*time.Second, cfg.Offline.SyncTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := write(t, "caretree.yaml", "server:\n  addr: \":9090\"\n")
	k1 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 32)))
	k2 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32)))

	cfg, err := load(path, env(map[string]string{
		"CARETREE_SERVER_ADDR":             ":7070",
		"CARETREE_SERVER_REJECT_CONCURRENT": "true",
		"CARETREE_REDIS_DB":                "3",
		"CARETREE_OFFLINE_ENCRYPTION_KEY":  k1,
		"CARETREE_OFFLINE_FALLBACK_KEYS":   k2 + "," + k1,
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.True(t, cfg.Server.RejectConcurrent)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Len(t, cfg.Offline.FallbackKeys, 2)

	enc, ok, err := cfg.Offline.Encryption()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, enc.ActiveKey, 32)
	assert.Len(t, enc.FallbackKeys, 2)
}

func TestLoad_Errors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)

	_, err = load(write(t, "caretree.ini", "x=1"), env(nil))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = load(write(t, "caretree.yaml", "server:\n  adr: typo\n"), env(nil))
	assert.ErrorContains(t, err, "adr")

	_, err = load(write(t, "caretree.yaml", "server:\n  read_timeout: soon\n"), env(nil))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"Empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"Unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"Unknown source", func(c *Config) { c.Store.ProtocolSource = "git" }, "store.protocol_source"},
		{"Redis without addr", func(c *Config) { c.Store.Backend = BackendRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"Zero hops", func(c *Config) { c.Engine.MaxHops = 0 }, "engine.max_hops"},
		{"Negative timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "timeouts"},
		{"Short key", func(c *Config) { c.Offline.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short")) }, "encryption_key"},
		{"Bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestEncryption_Disabled(t *testing.T) {
	_, ok, err := Default().Offline.Encryption()
	require.NoError(t, err)
	assert.False(t, ok)
}
