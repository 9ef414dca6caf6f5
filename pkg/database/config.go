package database

import (
	"time"

	"github.com/homelab-ops/warden/pkg/config"
)

// Pool defaults applied when the configuration leaves them unset. The
// service holds few connections: one pipeline writer plus API reads.
const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// FromAppConfig converts the loaded YAML database section into a connection
// Config. Environment expansion (passwords and the like) already happened
// during config load.
func FromAppConfig(cfg *config.DatabaseConfig) Config {
	out := Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Name,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if out.Port == 0 {
		out.Port = 5432
	}
	if out.SSLMode == "" {
		out.SSLMode = "disable"
	}
	if out.MaxOpenConns == 0 {
		out.MaxOpenConns = defaultMaxOpenConns
	}
	if out.MaxIdleConns == 0 {
		out.MaxIdleConns = defaultMaxIdleConns
	}
	if out.ConnMaxLifetime == 0 {
		out.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if out.ConnMaxIdleTime == 0 {
		out.ConnMaxIdleTime = defaultConnMaxIdleTime
	}
	return out
}
