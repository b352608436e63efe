package proc

import (
	"context"
	"iter"

	"github.com/statelet/statelet/pkg/errors"
	"github.com/statelet/statelet/pkg/registry"
	"github.com/statelet/statelet/pkg/schema"
)

// ListState is a named state variable holding an ordered sequence of values
// per grouping key. The sequence is only ever replaced as a whole.
type ListState struct {
	handle *Handle
	ref    *registry.Ref
	schema *schema.Schema
}

// Name returns the declared state name
func (l *ListState) Name() string { return l.ref.Name() }

// Exists reports whether a non-empty sequence is stored for the current key
func (l *ListState) Exists(ctx context.Context) (bool, error) {
	key, err := l.handle.boundKey()
	if err != nil {
		return false, errors.WrapStateError(l.Name(), "exists", err)
	}
	return l.handle.client.Exists(ctx, l.ref, key)
}

// Get reads the sequence for the current key and returns it as a finite
// sequence. Each Get call re-reads from the backend, so a second call sees
// later writes and always traverses from the start; absent state yields an
// empty sequence.
func (l *ListState) Get(ctx context.Context) (iter.Seq[schema.Row], error) {
	key, err := l.handle.boundKey()
	if err != nil {
		return nil, errors.WrapStateError(l.Name(), "get", err)
	}

	rows, err := l.handle.client.GetList(ctx, l.ref, key)
	if err != nil {
		return nil, err
	}
	return Rows(rows...), nil
}

// Update atomically replaces the whole sequence for the current key. All
// rows are validated against the declared schema before any request is
// issued; an empty sequence clears the state.
func (l *ListState) Update(ctx context.Context, rows []schema.Row) error {
	key, err := l.handle.boundKey()
	if err != nil {
		return errors.WrapStateError(l.Name(), "update", err)
	}
	for _, row := range rows {
		if err := l.schema.ValidateRow(row); err != nil {
			return errors.WrapStateError(l.Name(), "update", err)
		}
	}
	return l.handle.client.UpdateList(ctx, l.ref, key, rows)
}

// Remove deletes the whole sequence for the current key; a no-op if nothing
// existed
func (l *ListState) Remove(ctx context.Context) error {
	key, err := l.handle.boundKey()
	if err != nil {
		return errors.WrapStateError(l.Name(), "remove", err)
	}
	return l.handle.client.Remove(ctx, l.ref, key)
}
