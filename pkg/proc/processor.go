// Package proc provides the processing-side API of statelet: the stateful
// processor contract, the handle a processor declares its state variables
// on, and the task runner the engine drives.
//
// A processor is invoked per grouping key; the state variables it declared
// during Init are implicitly scoped to the key bound for the current
// invocation. All state operations are synchronous round trips to the
// statelet backend.
package proc

import (
	"context"
	"iter"

	"github.com/statelet/statelet/pkg/schema"
)

// StatefulProcessor is the user-supplied processing unit. The engine calls
// Init exactly once per task, HandleInputRows once per key per batch, and
// Close exactly once at task teardown.
//
// Input rows are a single-pass finite sequence; the returned output rows are
// consumed single-pass by the engine before the next key is processed.
// Declaring state variables outside Init fails with ErrLateDeclaration.
type StatefulProcessor interface {
	// Init declares the processor's state variables on the handle
	Init(ctx context.Context, handle *Handle) error

	// HandleInputRows processes the rows of one grouping key and returns
	// the rows to emit (possibly empty, possibly nil)
	HandleInputRows(ctx context.Context, key string, rows iter.Seq[schema.Row]) (iter.Seq[schema.Row], error)

	// Close releases any processor-owned resources
	Close() error
}

// NoRows is an empty output sequence, for processors that emit nothing
func NoRows() iter.Seq[schema.Row] {
	return func(yield func(schema.Row) bool) {}
}

// Rows adapts a slice to the sequence form the contract uses
func Rows(rows ...schema.Row) iter.Seq[schema.Row] {
	return func(yield func(schema.Row) bool) {
		for _, row := range rows {
			if !yield(row) {
				return
			}
		}
	}
}
