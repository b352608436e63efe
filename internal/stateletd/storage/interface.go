package storage

import (
	"context"
)

// Kind distinguishes scalar state (at most one value per key) from list
// state (an ordered, fully replaceable sequence per key).
type Kind string

const (
	KindScalar Kind = "scalar"
	KindList   Kind = "list"
)

// Entry is one stored state cell. Payload is the raw JSON value for scalar
// state and a raw JSON array for list state; storage backends treat it as
// opaque bytes.
type Entry struct {
	Kind    Kind
	Payload []byte
}

// Backend defines the interface for state storage backends.
// Implementations: memory, DynamoDB, Valkey.
type Backend interface {
	// Put stores the entry for (name, key), replacing any previous one
	Put(ctx context.Context, name, key string, entry Entry) error

	// Get returns the entry for (name, key); the bool reports presence
	Get(ctx context.Context, name, key string) (Entry, bool, error)

	// Delete removes the entry for (name, key); absent entries are a no-op
	Delete(ctx context.Context, name, key string) error

	// Exists reports whether an entry is stored for (name, key)
	Exists(ctx context.Context, name, key string) (bool, error)

	// Close releases the backend connection
	Close() error

	// HealthCheck verifies backend availability
	HealthCheck(ctx context.Context) error
}

// Config holds backend configuration
type Config struct {
	Backend  string          `yaml:"backend" json:"backend"` // "memory", "dynamodb", "valkey"
	DynamoDB *DynamoDBConfig `yaml:"dynamodb" json:"dynamodb"`
	Valkey   *ValkeyConfig   `yaml:"valkey" json:"valkey"`
}

// DynamoDBConfig holds DynamoDB-specific configuration
type DynamoDBConfig struct {
	Region     string `yaml:"region" json:"region"`
	TableName  string `yaml:"table_name" json:"table_name"`
	TTLEnabled bool   `yaml:"ttl_enabled" json:"ttl_enabled"`
	TTLDays    int    `yaml:"ttl_days" json:"ttl_days"`
}

// ValkeyConfig holds Valkey-specific configuration
type ValkeyConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	Prefix    string   `yaml:"prefix" json:"prefix"`
	TTLDays   int      `yaml:"ttl_days" json:"ttl_days"`
}

// NewBackend creates a new storage backend based on configuration
func NewBackend(cfg *Config) (Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "dynamodb":
		return NewDynamoDBBackend(cfg.DynamoDB)
	case "valkey":
		return NewValkeyBackend(cfg.Valkey)
	default:
		return nil, ErrInvalidBackend
	}
}

// Error types
var (
	ErrInvalidBackend     = &StorageError{Code: "INVALID_BACKEND", Message: "invalid storage backend"}
	ErrBackendUnavailable = &StorageError{Code: "UNAVAILABLE", Message: "backend unavailable"}
)

// StorageError represents a storage operation error
type StorageError struct {
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
