// Package config loads server configuration from defaults, a YAML file,
// SOCIALWALL_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"socialwall/internal/backplane"
	"socialwall/internal/hub"
	"socialwall/internal/websocket"
	dbconfig "socialwall/pkg/database"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOCIALWALL_"

// Config is the complete server configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Hub       HubConfig       `koanf:"hub"`
	Store     StoreConfig     `koanf:"store"`
	Redis     RedisConfig     `koanf:"redis"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type WebSocketConfig struct {
	SendBuffer       int           `koanf:"send_buffer"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	PongWait         time.Duration `koanf:"pong_wait"`
	WriteWait        time.Duration `koanf:"write_wait"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	MaxMessageBytes  int64         `koanf:"max_message_bytes"`
	CookieName       string        `koanf:"cookie_name"`
	AllowedOrigins   []string      `koanf:"allowed_origins"`
}

type HubConfig struct {
	MaxConnections int           `koanf:"max_connections"`
	AuthTimeout    time.Duration `koanf:"auth_timeout"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	SignalLimit    int           `koanf:"signal_limit"`
	SignalWindow   time.Duration `koanf:"signal_window"`
}

type StoreConfig struct {
	Driver   string         `koanf:"driver"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type SQLiteConfig struct {
	Path           string `koanf:"path"`
	MaxConnections int    `koanf:"max_connections"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Channel  string `koanf:"channel"`
}

type MetricsConfig struct {
	// Addr of the metrics and health listener. Empty disables it.
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	ws := websocket.DefaultConfig()
	h := hub.DefaultConfig()
	db := dbconfig.DefaultConfig()

	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			SendBuffer:       ws.SendBuffer,
			PingInterval:     ws.PingInterval,
			PongWait:         ws.PongWait,
			WriteWait:        ws.WriteWait,
			HandshakeTimeout: ws.HandshakeTimeout,
			MaxMessageBytes:  ws.MaxMessageBytes,
			CookieName:       ws.CookieName,
		},
		Hub: HubConfig{
			MaxConnections: h.MaxConnections,
			AuthTimeout:    h.AuthTimeout,
			SweepInterval:  h.SweepInterval,
			IdleTimeout:    h.IdleTimeout,
			SignalLimit:    h.SignalLimit,
			SignalWindow:   h.SignalWindow,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{
				Path:           db.DatabasePath,
				MaxConnections: db.MaxConnections,
			},
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: backplane.DefaultChannel,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP read and write timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if err := c.WebSocketConfig().Validate(); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if err := c.HubConfig().Validate(); err != nil {
		return fmt.Errorf("hub: %w", err)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if err := c.SQLiteConfig().Validate(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store: postgres dsn is required")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return errors.New("redis: addr is required when enabled")
		}
		if c.Redis.Channel == "" {
			return errors.New("redis: channel cannot be empty")
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// ListenAddr is the host:port of the public server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// HubConfig converts the hub section.
func (c *Config) HubConfig() hub.Config {
	return hub.Config{
		MaxConnections: c.Hub.MaxConnections,
		AuthTimeout:    c.Hub.AuthTimeout,
		SweepInterval:  c.Hub.SweepInterval,
		IdleTimeout:    c.Hub.IdleTimeout,
		SignalLimit:    c.Hub.SignalLimit,
		SignalWindow:   c.Hub.SignalWindow,
	}
}

// WebSocketConfig converts the websocket section.
func (c *Config) WebSocketConfig() websocket.Config {
	return websocket.Config{
		SendBuffer:       c.WebSocket.SendBuffer,
		PingInterval:     c.WebSocket.PingInterval,
		PongWait:         c.WebSocket.PongWait,
		WriteWait:        c.WebSocket.WriteWait,
		HandshakeTimeout: c.WebSocket.HandshakeTimeout,
		MaxMessageBytes:  c.WebSocket.MaxMessageBytes,
		CookieName:       c.WebSocket.CookieName,
		AllowedOrigins:   c.WebSocket.AllowedOrigins,
	}
}

// SQLiteConfig converts the sqlite store section.
func (c *Config) SQLiteConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Store.SQLite.Path
	db.MaxConnections = c.Store.SQLite.MaxConnections
	return db
}

// RedisOptions converts the redis section.
func (c *Config) RedisOptions() backplane.ClientOptions {
	return backplane.ClientOptions{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// envKeys maps environment variables to configuration keys.
var envKeys = map[string]string{
	"HTTP_HOST":                 "http.host",
	"HTTP_PORT":                 "http.port",
	"HTTP_READ_TIMEOUT":         "http.read_timeout",
	"HTTP_WRITE_TIMEOUT":        "http.write_timeout",
	"HTTP_SHUTDOWN_TIMEOUT":     "http.shutdown_timeout",
	"WEBSOCKET_SEND_BUFFER":     "websocket.send_buffer",
	"WEBSOCKET_PING_INTERVAL":   "websocket.ping_interval",
	"WEBSOCKET_PONG_WAIT":       "websocket.pong_wait",
	"WEBSOCKET_WRITE_WAIT":      "websocket.write_wait",
	"WEBSOCKET_COOKIE_NAME":     "websocket.cookie_name",
	"WEBSOCKET_ALLOWED_ORIGINS": "websocket.allowed_origins",
	"HUB_MAX_CONNECTIONS":       "hub.max_connections",
	"HUB_AUTH_TIMEOUT":          "hub.auth_timeout",
	"HUB_SWEEP_INTERVAL":        "hub.sweep_interval",
	"HUB_IDLE_TIMEOUT":          "hub.idle_timeout",
	"HUB_SIGNAL_LIMIT":          "hub.signal_limit",
	"STORE_DRIVER":              "store.driver",
	"STORE_SQLITE_PATH":         "store.sqlite.path",
	"STORE_SQLITE_MAX_CONNS":    "store.sqlite.max_connections",
	"STORE_POSTGRES_DSN":        "store.postgres.dsn",
	"DATABASE_URL":              "store.postgres.dsn",
	"REDIS_ENABLED":             "redis.enabled",
	"REDIS_ADDR":                "redis.addr",
	"REDIS_PASSWORD":            "redis.password",
	"REDIS_DB":                  "redis.db",
	"REDIS_CHANNEL":             "redis.channel",
	"METRICS_ADDR":              "metrics.addr",
	"LOG_FORMAT":                "log.format",
	"LOG_LEVEL":                 "log.level",
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"host":         "http.host",
	"port":         "http.port",
	"store-driver": "store.driver",
	"sqlite-path":  "store.sqlite.path",
	"postgres-dsn": "store.postgres.dsn",
	"redis":        "redis.enabled",
	"redis-addr":   "redis.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"max-conns":    "hub.max_connections",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("host", d.HTTP.Host, "listen host")
	fs.Int("port", d.HTTP.Port, "listen port")
	fs.String("store-driver", d.Store.Driver, "session store driver (sqlite or postgres)")
	fs.String("sqlite-path", d.Store.SQLite.Path, "SQLite database path")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.Bool("redis", d.Redis.Enabled, "enable the Redis backplane")
	fs.String("redis-addr", d.Redis.Addr, "Redis address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Int("max-conns", d.Hub.MaxConnections, "maximum concurrent connections")
}

// Load builds the configuration. path may be empty and fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs, os.Environ())
}

func load(path string, fs *pflag.FlagSet, environ []string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		suffix, found := strings.CutPrefix(name, EnvPrefix)
		if !found {
			continue
		}
		key, known := envKeys[suffix]
		if !known {
			continue
		}
		var val any = value
		if key == "websocket.allowed_origins" {
			val = splitList(value)
		}
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("env", name).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("source", "flags").Wrap(err)
		}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
