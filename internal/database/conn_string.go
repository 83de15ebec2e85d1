package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/datacure/livejobs/internal/config"
)

// applicationName tags jobfeed sessions in pg_stat_activity.
const applicationName = "jobfeed"

// BuildConnString builds a PostgreSQL URL from config. Pool sizes travel as
// pool_max_conns/pool_min_conns, which pgxpool.ParseConfig understands.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)
	if cfg.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		q.Set("pool_min_conns", strconv.Itoa(cfg.MinConns))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
