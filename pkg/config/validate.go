package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout must be >= 0, got %v", c.Server.IdleTimeout))
	}
	if c.Server.AuthRate < 0 {
		errs = append(errs, fmt.Errorf("server.auth_rate must be >= 0, got %d", c.Server.AuthRate))
	}

	switch c.Storage.Type {
	case "memory":
	case "leveldb":
		if c.Storage.LevelDB.Path == "" {
			errs = append(errs, fmt.Errorf("storage.leveldb.path is required when storage.type is \"leveldb\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"leveldb\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.sweep_interval must be >= 0, got %v", c.Storage.SweepInterval))
	}

	if c.Gateway.Enabled {
		if c.Gateway.Addr == "" {
			errs = append(errs, fmt.Errorf("gateway.addr is required when the gateway is enabled"))
		}
		if c.Gateway.RequestTimeout <= 0 {
			errs = append(errs, fmt.Errorf("gateway.request_timeout must be > 0, got %v", c.Gateway.RequestTimeout))
		}
		if c.Gateway.TokenTTL <= 0 {
			errs = append(errs, fmt.Errorf("gateway.token_ttl must be > 0, got %v", c.Gateway.TokenTTL))
		}
		if c.Gateway.PoolSize <= 0 {
			errs = append(errs, fmt.Errorf("gateway.pool_size must be > 0, got %d", c.Gateway.PoolSize))
		}
	}

	if c.Observability.Metrics.Enabled {
		if c.Observability.Metrics.Addr == "" {
			errs = append(errs, fmt.Errorf("observability.metrics.addr is required when metrics are enabled"))
		}
		if !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be trace, debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
