package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fuse-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine database configuration (PostgreSQL, holds domain entities)
	Database DatabaseConfig `yaml:"database"`

	// Permissions cache configuration
	PermissionsCache PermissionsCacheConfig `yaml:"permissions_cache"`

	// Inspector connection settings for target databases
	Inspector InspectorConfig `yaml:"inspector"`
}

// DatabaseConfig holds PostgreSQL configuration for the engine's own database.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"fuse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"fuse_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// PermissionsCacheConfig holds timing settings for the permissions cache
// background loop. Entry TTL is always 2x the refresh interval so an entry
// survives one missed sweep before disappearing.
type PermissionsCacheConfig struct {
	// WarmupDelaySeconds is how long the background loop sleeps on startup
	// before the first sweep, so other services can finish initializing.
	WarmupDelaySeconds int `yaml:"warmup_delay_seconds" env:"PERMISSIONS_CACHE_WARMUP_DELAY_SECONDS" env-default:"15"`
	// RefreshIntervalSeconds is the sweep interval between full refreshes of
	// all integrations.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds" env:"PERMISSIONS_CACHE_REFRESH_INTERVAL_SECONDS" env-default:"300"`
}

// WarmupDelay returns the warm-up delay as a duration.
func (c *PermissionsCacheConfig) WarmupDelay() time.Duration {
	return time.Duration(c.WarmupDelaySeconds) * time.Second
}

// RefreshInterval returns the sweep interval as a duration.
func (c *PermissionsCacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// EntryTTL returns the absolute expiration window for cache writes.
func (c *PermissionsCacheConfig) EntryTTL() time.Duration {
	return 2 * c.RefreshInterval()
}

// InspectorConfig holds connection settings for target-database inspection.
type InspectorConfig struct {
	// ConnectTimeoutSeconds bounds how long an inspector waits to establish a
	// connection to a target database.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"INSPECTOR_CONNECT_TIMEOUT_SECONDS" env-default:"10"`
}

// ConnectTimeout returns the inspector connect timeout as a duration.
func (c *InspectorConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PermissionsCache.RefreshIntervalSeconds <= 0 {
		return fmt.Errorf("permissions_cache.refresh_interval_seconds must be positive, got %d", c.PermissionsCache.RefreshIntervalSeconds)
	}
	if c.PermissionsCache.WarmupDelaySeconds < 0 {
		return fmt.Errorf("permissions_cache.warmup_delay_seconds must not be negative, got %d", c.PermissionsCache.WarmupDelaySeconds)
	}
	if c.Inspector.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("inspector.connect_timeout_seconds must be positive, got %d", c.Inspector.ConnectTimeoutSeconds)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string for the engine database.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
