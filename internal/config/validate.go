package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := validateURL("channel.ws_url", c.Channel.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Channel.ReconnectBaseWait <= 0 {
		return errors.New("channel.reconnect_base_wait must be > 0")
	}
	if c.Channel.ReconnectMaxWait < c.Channel.ReconnectBaseWait {
		return fmt.Errorf("channel.reconnect_max_wait (%v) cannot be less than reconnect_base_wait (%v)",
			c.Channel.ReconnectMaxWait, c.Channel.ReconnectBaseWait)
	}
	if c.Channel.PongTimeout <= c.Channel.PingInterval {
		return fmt.Errorf("channel.pong_timeout (%v) must exceed ping_interval (%v)",
			c.Channel.PongTimeout, c.Channel.PingInterval)
	}

	if c.Cache.RefreshConcurrency < 1 {
		return errors.New("cache.refresh_concurrency must be >= 1")
	}

	switch c.Server.Store {
	case "memory":
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("server.store must be memory or postgres, got %q", c.Server.Store)
	}

	switch c.Server.Broker {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	default:
		return fmt.Errorf("server.broker must be memory or redis, got %q", c.Server.Broker)
	}
	if c.Server.BufferSize < 1 {
		return errors.New("server.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL, got %q", field, schemes[0], raw)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
