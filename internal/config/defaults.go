package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL              = "http://localhost:8000"
	DefaultBasePath             = "/api/v1"
	DefaultWSURL                = "ws://localhost:8000"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryBackoff         = 1 * time.Second
	DefaultReconnectBaseWait    = 1 * time.Second
	DefaultReconnectMaxWait     = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPongTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRefreshInterval      = 30 * time.Second
	DefaultRefreshConcurrency   = 4
	DefaultRefreshTimeout       = 10 * time.Second
	DefaultServerAddr           = ":8000"
	DefaultAllowedOrigin        = "http://localhost:3000"
	DefaultStore                = "memory"
	DefaultBroker               = "memory"
	DefaultRecordInterval       = 200 * time.Millisecond
	DefaultStageInterval        = 1 * time.Second
	DefaultBufferSize           = 256
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisChannelPrefix   = "datacure:jobs:"
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.BasePath == "" {
		c.API.BasePath = DefaultBasePath
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Channel defaults
	if c.Channel.WSURL == "" {
		c.Channel.WSURL = DefaultWSURL
	}
	if c.Channel.ReconnectBaseWait == 0 {
		c.Channel.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Channel.ReconnectMaxWait == 0 {
		c.Channel.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.Channel.MaxReconnectAttempts == 0 {
		c.Channel.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Channel.HandshakeTimeout == 0 {
		c.Channel.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Channel.PingInterval == 0 {
		c.Channel.PingInterval = DefaultPingInterval
	}
	if c.Channel.PongTimeout == 0 {
		c.Channel.PongTimeout = DefaultPongTimeout
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = DefaultWriteTimeout
	}

	// Cache defaults
	if c.Cache.RefreshInterval == 0 {
		c.Cache.RefreshInterval = DefaultRefreshInterval
	}
	if c.Cache.RefreshConcurrency == 0 {
		c.Cache.RefreshConcurrency = DefaultRefreshConcurrency
	}
	if c.Cache.RefreshTimeout == 0 {
		c.Cache.RefreshTimeout = DefaultRefreshTimeout
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	if c.Server.Store == "" {
		c.Server.Store = DefaultStore
	}
	if c.Server.Broker == "" {
		c.Server.Broker = DefaultBroker
	}
	if c.Server.RecordInterval == 0 {
		c.Server.RecordInterval = DefaultRecordInterval
	}
	if c.Server.StageInterval == 0 {
		c.Server.StageInterval = DefaultStageInterval
	}
	if c.Server.BufferSize == 0 {
		c.Server.BufferSize = DefaultBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = DefaultRedisChannelPrefix
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
