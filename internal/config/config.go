// Package config loads caretree settings from a YAML or TOML file, with
// CARETREE_* environment variables taking precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/aretw0/caretree/pkg/persistence/middleware"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CARETREE_SERVER_ADDR.
const EnvPrefix = "CARETREE_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Protocol sources.
const (
	SourceFile = "file"
	SourceLoam = "loam"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Offline OfflineConfig `mapstructure:"offline"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	RejectConcurrent bool          `mapstructure:"reject_concurrent"`
	MaxBatch         int           `mapstructure:"max_batch"`
	Metrics          bool          `mapstructure:"metrics"`
}

// StoreConfig selects where sessions and protocol versions live.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	ProtocolDir string `mapstructure:"protocol_dir"`

	// ProtocolSource selects how ProtocolDir is read: plain JSON/YAML documents
	// or a Loam repository of Markdown documents with front matter.
	ProtocolSource string `mapstructure:"protocol_source"`
}

// RedisConfig configures the redis session store and lock.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// OfflineConfig configures the replica used by `caretree run` and `caretree sync`.
type OfflineConfig struct {
	Dir             string        `mapstructure:"dir"`
	Server          string        `mapstructure:"server"`
	OperatorID      string        `mapstructure:"operator_id"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	TriggerInterval time.Duration `mapstructure:"trigger_interval"`
	EncryptionKey   string        `mapstructure:"encryption_key"`
	FallbackKeys    []string      `mapstructure:"fallback_keys"`
}

// EngineConfig configures traversal.
type EngineConfig struct {
	MaxHops int `mapstructure:"max_hops"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBatch:        500,
			Metrics:         true,
		},
		Store: StoreConfig{
			Backend:        BackendFile,
			Dir:            ".caretree",
			ProtocolDir:    "protocols",
			ProtocolSource: SourceFile,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Prefix:  "caretree:",
			LockTTL: 30 * time.Second,
		},
		Offline: OfflineConfig{
			Dir:             ".caretree/offline",
			SyncTimeout:     30 * time.Second,
			TriggerInterval: 5 * time.Second,
		},
		Engine: EngineConfig{MaxHops: engine.DefaultMaxHops},
		Log:    LogConfig{Level: "info", Format: string(logging.FormatText)},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		raw, err = parse(filepath.Ext(path), data)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	for _, key := range keys(reflect.TypeOf(Config{}), "") {
		name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if v, ok := lookup(name); ok {
			set(raw, key, v)
		}
	}

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parse(ext string, data []byte) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return raw, nil
}

// keys lists the dotted mapstructure paths of every leaf field.
func keys(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			out = append(out, keys(f.Type, name)...)
			continue
		}
		out = append(out, name)
	}
	return out
}

func set(raw map[string]any, key string, value string) {
	parts := strings.Split(key, ".")
	m := raw
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}
	if c.Server.MaxBatch <= 0 {
		errs = append(errs, errors.New("server.max_batch must be positive"))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
		if c.Redis.LockTTL <= 0 {
			errs = append(errs, errors.New("redis.lock_ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, file, redis", c.Store.Backend))
	}
	switch c.Store.ProtocolSource {
	case SourceFile, SourceLoam:
	default:
		errs = append(errs, fmt.Errorf("store.protocol_source %q is not one of file, loam", c.Store.ProtocolSource))
	}
	if c.Engine.MaxHops <= 0 {
		errs = append(errs, errors.New("engine.max_hops must be positive"))
	}
	if c.Offline.SyncTimeout <= 0 {
		errs = append(errs, errors.New("offline.sync_timeout must be positive"))
	}
	if c.Offline.EncryptionKey != "" {
		if _, err := middleware.DecodeKey(c.Offline.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("offline.encryption_key: %w", err))
		}
	}
	for i, k := range c.Offline.FallbackKeys {
		if _, err := middleware.DecodeKey(k); err != nil {
			errs = append(errs, fmt.Errorf("offline.fallback_keys[%d]: %w", i, err))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	return errors.Join(errs...)
}

// Encryption returns the queue encryption settings, or false when the queue is stored in clear.
func (c OfflineConfig) Encryption() (middleware.EncryptionConfig, bool, error) {
	if c.EncryptionKey == "" {
		return middleware.EncryptionConfig{}, false, nil
	}
	active, err := middleware.DecodeKey(c.EncryptionKey)
	if err != nil {
		return middleware.EncryptionConfig{}, false, err
	}
	cfg := middleware.EncryptionConfig{ActiveKey: active}
	for _, k := range c.FallbackKeys {
		key, err := middleware.DecodeKey(k)
		if err != nil {
			return middleware.EncryptionConfig{}, false, err
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, key)
	}
	return cfg, true, nil
}
