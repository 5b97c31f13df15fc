// Package config provides configuration management for the sync daemon
// and the query API.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/drewstake/topsignal/internal/apperr"
)

// Config represents the complete application configuration.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Sync    SyncConfig    `yaml:"sync"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

// BrokerConfig defines upstream API credentials.
type BrokerConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
}

// SyncConfig defines sync-planner and day-sync tuning knobs.
type SyncConfig struct {
	LookbackDays            int `yaml:"lookback_days"`
	ChunkDays               int `yaml:"chunk_days"`
	DaySyncLimit            int `yaml:"day_sync_limit"`
	YesterdayRefreshMinutes int `yaml:"yesterday_refresh_minutes"`
}

// ServerConfig defines the queryapi HTTP server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// StorageConfig defines the SQLite store location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

const (
	defaultLookbackDays            = 365
	defaultChunkDays               = 90
	defaultDaySyncLimit            = 1000
	defaultYesterdayRefreshMinutes = 180
	defaultListenAddr              = ":8080"
	defaultStoragePath             = "./topsignal.db"
)

// Load builds a Config by starting from defaults, layering an optional
// YAML file (path from TOPSIGNAL_CONFIG, default "config.yaml", silently
// skipped if absent) on top, and finally overriding field-by-field from
// environment variables -- the only surface guaranteed present in
// production.
func Load() (*Config, error) {
	cfg := defaults()

	path := firstNonEmpty(os.Getenv("TOPSIGNAL_CONFIG"), "config.yaml")
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- path is operator-controlled
		expanded := os.ExpandEnv(string(data))
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Sync: SyncConfig{
			LookbackDays:            defaultLookbackDays,
			ChunkDays:               defaultChunkDays,
			DaySyncLimit:            defaultDaySyncLimit,
			YesterdayRefreshMinutes: defaultYesterdayRefreshMinutes,
		},
		Server:  ServerConfig{ListenAddr: defaultListenAddr},
		Storage: StorageConfig{Path: defaultStoragePath},
	}
}

// applyEnvOverrides mirrors the original client's multi-alias env lookup
// for broker credentials, plus the PROJECTX_* and TOPSIGNAL_* tuning
// surfaces for everything else.
func (c *Config) applyEnvOverrides() {
	c.Broker.BaseURL = firstNonEmptyEnv(c.Broker.BaseURL, "PROJECTX_BASE_URL", "PROJECTX_API_URL")
	c.Broker.Username = firstNonEmptyEnv(c.Broker.Username, "PROJECTX_USERNAME", "PROJECTX_USER")
	c.Broker.APIKey = firstNonEmptyEnv(c.Broker.APIKey, "PROJECTX_API_KEY", "PROJECTX_TOKEN")

	c.Sync.LookbackDays = intEnvOrDefault("PROJECTX_INITIAL_LOOKBACK_DAYS", c.Sync.LookbackDays)
	c.Sync.ChunkDays = intEnvOrDefault("PROJECTX_SYNC_CHUNK_DAYS", c.Sync.ChunkDays)
	c.Sync.DaySyncLimit = intEnvOrDefault("PROJECTX_DAY_SYNC_LIMIT", c.Sync.DaySyncLimit)
	c.Sync.YesterdayRefreshMinutes = intEnvOrDefault("PROJECTX_YESTERDAY_REFRESH_MINUTES", c.Sync.YesterdayRefreshMinutes)

	c.Server.ListenAddr = firstNonEmptyEnv(c.Server.ListenAddr, "TOPSIGNAL_LISTEN_ADDR")
	c.Server.AuthToken = firstNonEmptyEnv(c.Server.AuthToken, "TOPSIGNAL_AUTH_TOKEN")
	c.Storage.Path = firstNonEmptyEnv(c.Storage.Path, "TOPSIGNAL_STORAGE_PATH")
}

// Validate checks that all configuration values are valid and consistent.
// It collects every missing or invalid name rather than stopping at the
// first, so an operator can fix a config in one pass.
func (c *Config) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Broker.BaseURL) == "" {
		missing = append(missing, "broker.base_url")
	}
	if strings.TrimSpace(c.Broker.Username) == "" {
		missing = append(missing, "broker.username")
	}
	if strings.TrimSpace(c.Broker.APIKey) == "" {
		missing = append(missing, "broker.api_key")
	}
	if c.Sync.LookbackDays <= 0 {
		missing = append(missing, "sync.lookback_days (must be > 0)")
	}
	if c.Sync.ChunkDays <= 0 {
		missing = append(missing, "sync.chunk_days (must be > 0)")
	}
	if c.Sync.DaySyncLimit <= 0 {
		missing = append(missing, "sync.day_sync_limit (must be > 0)")
	}
	if c.Sync.YesterdayRefreshMinutes <= 0 {
		missing = append(missing, "sync.yesterday_refresh_minutes (must be > 0)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		missing = append(missing, "storage.path")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid configuration, missing or invalid: %s: %w", strings.Join(missing, ", "), apperr.ErrConfiguration)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyEnv(fallback string, names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}

// intEnvOrDefault returns fallback when name is unset. A value that is set
// but not an integer yields 0, which Validate then rejects as a
// configuration error.
func intEnvOrDefault(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
