package proc

import (
	"context"

	"github.com/statelet/statelet/pkg/errors"
	"github.com/statelet/statelet/pkg/registry"
	"github.com/statelet/statelet/pkg/schema"
)

// ScalarState is a named state variable holding at most one value per
// grouping key. It never stores the key itself; every call reads the
// currently bound key through the owning handle.
type ScalarState struct {
	handle *Handle
	ref    *registry.Ref
	schema *schema.Schema
}

// Name returns the declared state name
func (s *ScalarState) Name() string { return s.ref.Name() }

// Exists reports whether a value is stored for the current key
func (s *ScalarState) Exists(ctx context.Context) (bool, error) {
	key, err := s.handle.boundKey()
	if err != nil {
		return false, errors.WrapStateError(s.Name(), "exists", err)
	}
	return s.handle.client.Exists(ctx, s.ref, key)
}

// Get returns the value for the current key. The bool result reports
// presence; absence is a normal result, never an error.
func (s *ScalarState) Get(ctx context.Context) (schema.Row, bool, error) {
	key, err := s.handle.boundKey()
	if err != nil {
		return nil, false, errors.WrapStateError(s.Name(), "get", err)
	}
	return s.handle.client.Get(ctx, s.ref, key)
}

// Update replaces the value for the current key. The value is validated
// against the declared schema before any request is issued, and the call
// returns only after the backend has acknowledged the write.
func (s *ScalarState) Update(ctx context.Context, row schema.Row) error {
	key, err := s.handle.boundKey()
	if err != nil {
		return errors.WrapStateError(s.Name(), "update", err)
	}
	if err := s.schema.ValidateRow(row); err != nil {
		return errors.WrapStateError(s.Name(), "update", err)
	}
	return s.handle.client.Update(ctx, s.ref, key, row)
}

// Remove deletes the value for the current key; a no-op if nothing existed
func (s *ScalarState) Remove(ctx context.Context) error {
	key, err := s.handle.boundKey()
	if err != nil {
		return errors.WrapStateError(s.Name(), "remove", err)
	}
	return s.handle.client.Remove(ctx, s.ref, key)
}
