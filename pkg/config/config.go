// Package config loads statelet configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/statelet/statelet/internal/stateletd/storage"
	"github.com/statelet/statelet/pkg/errors"
)

const (
	// DefaultConfigPath is where a packaged install drops its config
	DefaultConfigPath = "/opt/statelet/config/statelet-config.yml"

	// DefaultSocketPath is the daemon's IPC socket when none is configured
	DefaultSocketPath = "/opt/statelet/run/statelet.sock"
)

// Config represents the complete statelet configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the daemon's IPC settings
type ServerConfig struct {
	Socket string `yaml:"socket"`
}

// ClientConfig contains dial/retry settings for registry clients
type ClientConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// StorageConfig selects and configures the state storage backend
type StorageConfig struct {
	Backend  string          `yaml:"backend"` // "memory", "dynamodb", "valkey"
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty"`
	Valkey   *ValkeyConfig   `yaml:"valkey,omitempty"`
}

// DynamoDBConfig contains AWS DynamoDB backend settings.
// Authentication uses the AWS default credential chain.
type DynamoDBConfig struct {
	Region     string `yaml:"region"` // Auto-detected from EC2 metadata if empty
	TableName  string `yaml:"table_name"`
	TTLEnabled bool   `yaml:"ttl_enabled"`
	TTLDays    int    `yaml:"ttl_days"`
}

// ValkeyConfig contains Valkey backend settings
type ValkeyConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	Prefix    string   `yaml:"prefix"`
	TTLDays   int      `yaml:"ttl_days"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr
}

// DefaultConfig returns the configuration used when no file is found
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Socket: DefaultSocketPath,
		},
		Client: ClientConfig{
			DialTimeout:    5 * time.Second,
			ReadTimeout:    10 * time.Second,
			MaxRetries:     3,
			ReconnectDelay: 1 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for
// anything the file leaves unset
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadWithSearch tries config paths in order: the explicit path argument,
// $STATELET_CONFIG_PATH, the packaged default, then the working directory.
// With no file anywhere it falls back to DefaultConfig.
func LoadWithSearch(explicit string) (*Config, error) {
	paths := []string{
		explicit,
		os.Getenv("STATELET_CONFIG_PATH"),
		DefaultConfigPath,
		"./config/statelet-config.yml",
		"./statelet-config.yml",
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if path == explicit {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			continue
		}
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Socket == "" {
		return fmt.Errorf("%w: server socket is not configured", errors.ErrInvalidConfig)
	}

	switch c.Storage.Backend {
	case "memory":
	case "dynamodb":
		if c.Storage.DynamoDB == nil {
			return fmt.Errorf("%w: dynamodb configuration is required when backend is 'dynamodb'", errors.ErrInvalidConfig)
		}
		if c.Storage.DynamoDB.TableName == "" {
			return fmt.Errorf("%w: dynamodb table_name is required", errors.ErrInvalidConfig)
		}
	case "valkey":
		if c.Storage.Valkey == nil {
			return fmt.Errorf("%w: valkey configuration is required when backend is 'valkey'", errors.ErrInvalidConfig)
		}
		if len(c.Storage.Valkey.Addresses) == 0 {
			return fmt.Errorf("%w: valkey addresses are required", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", errors.ErrInvalidConfig, c.Storage.Backend)
	}

	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("%w: client max_retries must not be negative", errors.ErrInvalidConfig)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", errors.ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// ToStorageConfig converts the YAML storage section into the backend
// factory's config
func (c *Config) ToStorageConfig() *storage.Config {
	sc := &storage.Config{
		Backend: c.Storage.Backend,
	}

	if c.Storage.DynamoDB != nil {
		sc.DynamoDB = &storage.DynamoDBConfig{
			Region:     c.Storage.DynamoDB.Region,
			TableName:  c.Storage.DynamoDB.TableName,
			TTLEnabled: c.Storage.DynamoDB.TTLEnabled,
			TTLDays:    c.Storage.DynamoDB.TTLDays,
		}
	}

	if c.Storage.Valkey != nil {
		sc.Valkey = &storage.ValkeyConfig{
			Addresses: c.Storage.Valkey.Addresses,
			Password:  c.Storage.Valkey.Password,
			Prefix:    c.Storage.Valkey.Prefix,
			TTLDays:   c.Storage.Valkey.TTLDays,
		}
	}

	return sc
}
