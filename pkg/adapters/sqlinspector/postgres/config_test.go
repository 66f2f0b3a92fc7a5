package postgres

import (
	"testing"
)

func TestFromMap_ValidConfig(t *testing.T) {
	config := map[string]any{
		"host":     "pghost.internal",
		"port":     float64(5432), // JSON numbers are float64
		"username": "fuse_inspector",
		"password": "env://PG_INSPECTOR_PASSWORD",
		"database": "inventory",
		"ssl_mode": "require",
	}

	cfg, err := FromMap(config)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Host != "pghost.internal" {
		t.Errorf("expected host 'pghost.internal', got '%s'", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Port)
	}
	if cfg.Username != "fuse_inspector" {
		t.Errorf("expected username 'fuse_inspector', got '%s'", cfg.Username)
	}
	if cfg.Database != "inventory" {
		t.Errorf("expected database 'inventory', got '%s'", cfg.Database)
	}
	if cfg.SSLMode != "require" {
		t.Errorf("expected ssl_mode 'require', got '%s'", cfg.SSLMode)
	}
}

func TestFromMap_Defaults(t *testing.T) {
	config := map[string]any{
		"host":     "localhost",
		"username": "postgres",
		"database": "inventory",
	}

	cfg, err := FromMap(config)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != DefaultPort() {
		t.Errorf("expected default port %d, got %d", DefaultPort(), cfg.Port)
	}
	if cfg.SSLMode != "prefer" {
		t.Errorf("expected default ssl_mode 'prefer', got '%s'", cfg.SSLMode)
	}
}

func TestFromMap_UserAlias(t *testing.T) {
	config := map[string]any{
		"host":     "localhost",
		"user":     "postgres",
		"database": "inventory",
	}

	cfg, err := FromMap(config)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Username != "postgres" {
		t.Errorf("expected username 'postgres', got '%s'", cfg.Username)
	}
}

func TestFromMap_MissingHost(t *testing.T) {
	config := map[string]any{
		"username": "postgres",
		"database": "inventory",
	}

	_, err := FromMap(config)
	if err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestFromMap_MissingUsername(t *testing.T) {
	config := map[string]any{
		"host":     "localhost",
		"database": "inventory",
	}

	_, err := FromMap(config)
	if err == nil {
		t.Fatal("expected error for missing username")
	}
}

func TestFromMap_MissingDatabase(t *testing.T) {
	config := map[string]any{
		"host":     "localhost",
		"username": "postgres",
	}

	_, err := FromMap(config)
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := &Config{
		Host:     "localhost",
		Port:     0,
		Username: "postgres",
		Database: "inventory",
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
}
