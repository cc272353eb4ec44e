package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, KEYSPACE_CONFIG env, ./keyspace.yaml, /etc/keyspace/keyspace.yaml)
//  3. KEYSPACE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. KEYSPACE_CONFIG environment variable
// 3. ./keyspace.yaml in the current directory
// 4. /etc/keyspace/keyspace.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("KEYSPACE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"keyspace.yaml",
		"/etc/keyspace/keyspace.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps KEYSPACE_* environment variables to config fields.
// Malformed numbers, durations and booleans are reported rather than
// silently ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"KEYSPACE_ADDR":           &cfg.Server.Addr,
		"KEYSPACE_PASSWORD":       &cfg.Server.Password,
		"KEYSPACE_PASSWORD_FILE":  &cfg.Server.PasswordFile,
		"KEYSPACE_STORAGE":        &cfg.Storage.Type,
		"KEYSPACE_LEVELDB_PATH":   &cfg.Storage.LevelDB.Path,
		"KEYSPACE_POSTGRES_DSN":   &cfg.Storage.Postgres.DSN,
		"KEYSPACE_GATEWAY_ADDR":   &cfg.Gateway.Addr,
		"KEYSPACE_EXTENSION_ROOT": &cfg.Extension.Root,
		"KEYSPACE_METRICS_ADDR":   &cfg.Observability.Metrics.Addr,
		"KEYSPACE_LOG_LEVEL":      &cfg.Log.Level,
		"KEYSPACE_LOG_FORMAT":     &cfg.Log.Format,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	var errs []string
	fail := func(name string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}

	bools := map[string]*bool{
		"KEYSPACE_GATEWAY_ENABLED": &cfg.Gateway.Enabled,
		"KEYSPACE_METRICS_ENABLED": &cfg.Observability.Metrics.Enabled,
	}
	for name, field := range bools {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(name, err)
				continue
			}
			*field = b
		}
	}

	durations := map[string]*time.Duration{
		"KEYSPACE_IDLE_TIMEOUT":   &cfg.Server.IdleTimeout,
		"KEYSPACE_SWEEP_INTERVAL": &cfg.Storage.SweepInterval,
	}
	for name, field := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(name, err)
				continue
			}
			*field = d
		}
	}

	if v := os.Getenv("KEYSPACE_AUTH_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			fail("KEYSPACE_AUTH_RATE", err)
		} else {
			cfg.Server.AuthRate = n
		}
	}

	// KEYSPACE_EXTENSION_CONFIG: JSON object of string settings.
	if v := os.Getenv("KEYSPACE_EXTENSION_CONFIG"); v != "" {
		settings, err := parseSettingsJSON(v)
		if err != nil {
			fail("KEYSPACE_EXTENSION_CONFIG", err)
		} else {
			cfg.Extension.Config = settings
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// parseSettingsJSON parses a JSON object of extension settings.
func parseSettingsJSON(jsonStr string) (map[string]string, error) {
	var settings map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &settings); err != nil {
		return nil, fmt.Errorf("parsing extension settings JSON: %w", err)
	}
	return settings, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// server.password_file -> server.password
	if cfg.Server.PasswordFile != "" && cfg.Server.Password == "" {
		val, err := readSecretFile(cfg.Server.PasswordFile)
		if err != nil {
			return fmt.Errorf("server.password_file: %w", err)
		}
		cfg.Server.Password = val
	}

	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
