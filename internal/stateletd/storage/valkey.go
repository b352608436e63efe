package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// valkeyBackend implements Backend using a Valkey (or Redis-compatible)
// server. Each cell is one key of the form prefix:name:key holding a JSON
// envelope with the entry kind and payload.
type valkeyBackend struct {
	client  valkey.Client
	prefix  string
	ttlDays int
}

// valkeyEnvelope is the stored representation of an Entry
type valkeyEnvelope struct {
	Kind    Kind   `json:"kind"`
	Payload []byte `json:"payload"`
}

// NewValkeyBackend creates a new Valkey storage backend
func NewValkeyBackend(cfg *ValkeyConfig) (Backend, error) {
	if cfg == nil || len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("valkey configuration with at least one address is required")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: cfg.Addresses,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "statelet"
	}

	backend := &valkeyBackend{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, ":"),
		ttlDays: cfg.TTLDays,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey health check failed: %w", err)
	}

	return backend, nil
}

func (v *valkeyBackend) Put(ctx context.Context, name, key string, entry Entry) error {
	data, err := json.Marshal(valkeyEnvelope{Kind: entry.Kind, Payload: entry.Payload})
	if err != nil {
		return &StorageError{Code: "MARSHAL_ERROR", Message: "failed to encode state entry", Err: err}
	}

	builder := v.client.B().Set().Key(v.cellKey(name, key)).Value(valkey.BinaryString(data))
	var cmd valkey.Completed
	if v.ttlDays > 0 {
		cmd = builder.Ex(time.Duration(v.ttlDays) * 24 * time.Hour).Build()
	} else {
		cmd = builder.Build()
	}

	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return &StorageError{Code: "VALKEY_ERROR", Message: "failed to put state entry", Err: err}
	}
	return nil
}

func (v *valkeyBackend) Get(ctx context.Context, name, key string) (Entry, bool, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(v.cellKey(name, key)).Build()).AsBytes()
	if err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return Entry{}, false, nil
		}
		return Entry{}, false, &StorageError{Code: "VALKEY_ERROR", Message: "failed to get state entry", Err: err}
	}

	var envelope valkeyEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Entry{}, false, &StorageError{Code: "UNMARSHAL_ERROR", Message: "failed to decode state entry", Err: err}
	}
	return Entry{Kind: envelope.Kind, Payload: envelope.Payload}, true, nil
}

func (v *valkeyBackend) Delete(ctx context.Context, name, key string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.cellKey(name, key)).Build()).Error(); err != nil {
		return &StorageError{Code: "VALKEY_ERROR", Message: "failed to delete state entry", Err: err}
	}
	return nil
}

func (v *valkeyBackend) Exists(ctx context.Context, name, key string) (bool, error) {
	n, err := v.client.Do(ctx, v.client.B().Exists().Key(v.cellKey(name, key)).Build()).AsInt64()
	if err != nil {
		return false, &StorageError{Code: "VALKEY_ERROR", Message: "failed to check state entry", Err: err}
	}
	return n > 0, nil
}

func (v *valkeyBackend) Close() error {
	v.client.Close()
	return nil
}

func (v *valkeyBackend) HealthCheck(ctx context.Context) error {
	if err := v.client.Do(ctx, v.client.B().Ping().Build()).Error(); err != nil {
		return &StorageError{Code: "UNAVAILABLE", Message: "valkey not reachable", Err: err}
	}
	return nil
}

// cellKey builds the storage key for (state name, grouping key). Both
// components are escaped so a ":" inside either one cannot make distinct
// (name, key) pairs collide; the grouping key is engine-supplied and may
// contain any byte.
func (v *valkeyBackend) cellKey(name, key string) string {
	return v.prefix + ":" + escapeCellPart(name) + ":" + escapeCellPart(key)
}

// escapeCellPart makes the ":" separator in cellKey unambiguous
func escapeCellPart(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}
