// Package config provides unified configuration for the keyspace server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (KEYSPACE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"log/slog"
	"time"

	"github.com/rhuss/keyspace/pkg/debug"
)

// Config holds all configuration for the keyspace server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Extension     ExtensionConfig     `yaml:"extension"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds protocol server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default: ":6380"
	Password        string        `yaml:"password"`         // empty disables AUTH
	PasswordFile    string        `yaml:"password_file"`    // _file variant for password
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // default: 5m, 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
	AuthRate        int           `yaml:"auth_rate"`        // failed AUTH attempts per minute and host, default: 10, 0 disables
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Type          string         `yaml:"type"`           // "memory", "leveldb" or "postgres", default: "memory"
	SweepInterval time.Duration  `yaml:"sweep_interval"` // janitor period, default: 1m, 0 disables
	LevelDB       LevelDBConfig  `yaml:"leveldb"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

// LevelDBConfig holds LevelDB-specific settings.
type LevelDBConfig struct {
	Path string `yaml:"path"` // default: "data/keyspace"
	Sync bool   `yaml:"sync"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`            // default: ":8080"
	RequestTimeout time.Duration `yaml:"request_timeout"` // default: 30s
	TokenTTL       time.Duration `yaml:"token_ttl"`       // default: 24h
	PoolSize       int           `yaml:"pool_size"`       // idle protocol connections, default: 8
	MaxBodySize    int64         `yaml:"max_body_size"`   // bytes, default: 1 MiB
	CORS           CORSConfig    `yaml:"cors"`
}

// CORSConfig lists origins allowed to call the gateway from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ExtensionConfig locates the Lua extension.
type ExtensionConfig struct {
	Root   string            `yaml:"root"`   // empty disables extensions
	Entry  string            `yaml:"entry"`  // default: "init.lua"
	Config map[string]string `yaml:"config"` // exposed to scripts as the config table
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Addr    string `yaml:"addr"`    // default: ":9090"
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
	Debug  string `yaml:"debug"`  // comma-separated debug categories, see package debug
}

// SlogLevel maps Level to a slog level. Unknown names yield info.
func (l LogConfig) SlogLevel() slog.Level {
	return debug.ParseLevel(l.Level)
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":6380",
			IdleTimeout:     5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			AuthRate:        10,
		},
		Storage: StorageConfig{
			Type:          "memory",
			SweepInterval: time.Minute,
			LevelDB: LevelDBConfig{
				Path: "data/keyspace",
			},
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Gateway: GatewayConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
			TokenTTL:       24 * time.Hour,
			PoolSize:       8,
			MaxBodySize:    1 << 20,
		},
		Extension: ExtensionConfig{
			Entry: "init.lua",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Addr:    ":9090",
				Path:    "/metrics",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
