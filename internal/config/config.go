package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Channel  ChannelConfig  `yaml:"channel"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig holds job service REST settings.
type APIConfig struct {
	BaseURL      string            `yaml:"base_url"`
	BasePath     string            `yaml:"base_path"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxRetries   int               `yaml:"max_retries"`
	RetryBackoff time.Duration     `yaml:"retry_backoff"`
}

// ChannelConfig holds live job channel settings.
type ChannelConfig struct {
	WSURL              string        `yaml:"ws_url"`
	ReconnectBaseWait  time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait   time.Duration `yaml:"reconnect_max_wait"`
	// MaxReconnectAttempts bounds consecutive failed reconnects. Zero means
	// the default; a negative value means unbounded.
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// Attempts returns the retry bound in connection manager terms, where 0 is
// unbounded.
func (c ChannelConfig) Attempts() int {
	if c.MaxReconnectAttempts < 0 {
		return 0
	}
	return c.MaxReconnectAttempts
}

// CacheConfig holds query refresher settings.
type CacheConfig struct {
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	RefreshConcurrency int           `yaml:"refresh_concurrency"`
	RefreshTimeout     time.Duration `yaml:"refresh_timeout"`
}

// ServerConfig holds jobfeed server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Store          string        `yaml:"store"`  // memory or postgres
	Broker         string        `yaml:"broker"` // memory or redis
	RecordInterval time.Duration `yaml:"record_interval"`
	StageInterval  time.Duration `yaml:"stage_interval"`
	BufferSize     int           `yaml:"buffer_size"`
	SeedJobs       int           `yaml:"seed_jobs"`
}

// DatabaseConfig holds the Postgres connection used by the postgres store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the Redis connection used by the redis broker.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog level. Unknown levels are info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
