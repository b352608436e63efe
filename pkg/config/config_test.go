package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "statelet-config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Socket != DefaultSocketPath {
		t.Errorf("expected default socket %s, got %s", DefaultSocketPath, cfg.Server.Socket)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend by default, got %s", cfg.Storage.Backend)
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("expected 3 retries by default, got %d", cfg.Client.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  socket: /tmp/test-statelet.sock
client:
  max_retries: 5
storage:
  backend: dynamodb
  dynamodb:
    region: us-west-2
    table_name: statelet-state
    ttl_enabled: true
    ttl_days: 7
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Socket != "/tmp/test-statelet.sock" {
		t.Errorf("unexpected socket: %s", cfg.Server.Socket)
	}
	if cfg.Client.MaxRetries != 5 {
		t.Errorf("unexpected max_retries: %d", cfg.Client.MaxRetries)
	}
	if cfg.Storage.Backend != "dynamodb" {
		t.Errorf("unexpected backend: %s", cfg.Storage.Backend)
	}
	if cfg.Storage.DynamoDB == nil || cfg.Storage.DynamoDB.TableName != "statelet-state" {
		t.Errorf("dynamodb config not parsed: %+v", cfg.Storage.DynamoDB)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}

	// Unset fields keep their defaults
	if cfg.Client.DialTimeout != 5*time.Second {
		t.Errorf("dial timeout default lost: %v", cfg.Client.DialTimeout)
	}
}

func TestLoad_ValkeyBackend(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: valkey
  valkey:
    addresses: ["localhost:6379"]
    prefix: statelet
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	sc := cfg.ToStorageConfig()
	if sc.Valkey == nil || len(sc.Valkey.Addresses) != 1 {
		t.Errorf("valkey config not converted: %+v", sc.Valkey)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket", func(c *Config) { c.Server.Socket = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"dynamodb without config", func(c *Config) { c.Storage.Backend = "dynamodb" }},
		{"dynamodb without table", func(c *Config) {
			c.Storage.Backend = "dynamodb"
			c.Storage.DynamoDB = &DynamoDBConfig{Region: "us-east-1"}
		}},
		{"valkey without addresses", func(c *Config) {
			c.Storage.Backend = "valkey"
			c.Storage.Valkey = &ValkeyConfig{}
		}},
		{"negative retries", func(c *Config) { c.Client.MaxRetries = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	if _, err := Load(path); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestLoadWithSearch_ExplicitMissing(t *testing.T) {
	if _, err := LoadWithSearch(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("explicitly named missing config should be an error")
	}
}

func TestLoadWithSearch_EnvPath(t *testing.T) {
	path := writeConfig(t, `
server:
  socket: /tmp/env-statelet.sock
`)
	t.Setenv("STATELET_CONFIG_PATH", path)

	cfg, err := LoadWithSearch("")
	if err != nil {
		t.Fatalf("LoadWithSearch failed: %v", err)
	}
	if cfg.Server.Socket != "/tmp/env-statelet.sock" {
		t.Errorf("env config not used: %s", cfg.Server.Socket)
	}
}
