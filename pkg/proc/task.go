package proc

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/statelet/statelet/pkg/errors"
	"github.com/statelet/statelet/pkg/logger"
	"github.com/statelet/statelet/pkg/registry"
	"github.com/statelet/statelet/pkg/schema"
)

type taskState int

const (
	taskUninitialized taskState = iota
	taskInitialized
	taskClosed
)

// Task drives one StatefulProcessor through its lifecycle:
// Uninitialized -> Initialized -> (per-key processing)* -> Closed.
// One task owns one registry client connection exclusively and releases it
// on every exit path, including init failure.
//
// A task is a single logical thread of control; the engine never invokes it
// concurrently. Different tasks (covering disjoint key ranges) each get
// their own Task and client.
type Task struct {
	id        string
	processor StatefulProcessor
	client    *registry.Client
	handle    *Handle
	logger    *logger.Logger
	state     taskState
}

// NewTask wires a processor to a registry client
func NewTask(processor StatefulProcessor, client *registry.Client, log *logger.Logger) *Task {
	id := "task-" + uuid.NewString()
	if log == nil {
		log = logger.WithField("component", "task")
	}

	return &Task{
		id:        id,
		processor: processor,
		client:    client,
		logger:    log.WithField("task", id),
	}
}

// ID returns the task identifier used in logs
func (t *Task) ID() string { return t.id }

// Init connects the client and runs the processor's Init exactly once. All
// state variable declarations happen here; the handle is sealed when Init
// returns, so later declarations fail with ErrLateDeclaration.
func (t *Task) Init(ctx context.Context) error {
	switch t.state {
	case taskInitialized:
		return fmt.Errorf("task already initialized")
	case taskClosed:
		return errors.ErrHandleClosed
	}

	if err := t.client.Connect(); err != nil {
		t.state = taskClosed
		return fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err)
	}

	t.handle = newHandle(t.client, t.logger)
	if err := t.processor.Init(ctx, t.handle); err != nil {
		// Release the connection even when init fails
		t.handle.close()
		_ = t.client.Close()
		t.state = taskClosed
		return fmt.Errorf("processor init failed: %w", err)
	}

	t.handle.seal()
	t.state = taskInitialized
	t.logger.Debug("task initialized")
	return nil
}

// ProcessKey binds key, invokes the processor for its rows, and returns the
// processor's output. The key stays bound until the returned single-pass
// sequence has been fully consumed, so output may lazily read state; it is
// unbound automatically after that (or on error).
func (t *Task) ProcessKey(ctx context.Context, key string, rows iter.Seq[schema.Row]) (iter.Seq[schema.Row], error) {
	switch t.state {
	case taskUninitialized:
		return nil, errors.ErrNotInitialized
	case taskClosed:
		return nil, errors.ErrHandleClosed
	}
	if key == "" {
		return nil, errors.ErrInvalidKeyState
	}

	t.handle.bindKey(key)

	out, err := t.processor.HandleInputRows(ctx, key, rows)
	if err != nil {
		t.handle.unbindKey()
		return nil, fmt.Errorf("handleInputRows for key %q failed: %w", key, err)
	}
	if out == nil {
		t.handle.unbindKey()
		return NoRows(), nil
	}

	return func(yield func(schema.Row) bool) {
		defer t.handle.unbindKey()
		for row := range out {
			if !yield(row) {
				return
			}
		}
	}, nil
}

// Close tears the task down: processor first, then the handle and the
// client connection. It is safe to call on failure paths and is idempotent;
// after Close every state operation fails with ErrHandleClosed.
func (t *Task) Close() error {
	if t.state == taskClosed {
		return nil
	}
	initialized := t.state == taskInitialized
	t.state = taskClosed

	var procErr error
	if initialized {
		procErr = t.processor.Close()
	}

	if t.handle != nil {
		t.handle.close()
	}
	closeErr := t.client.Close()

	t.logger.Debug("task closed")

	if procErr != nil {
		return fmt.Errorf("processor close failed: %w", procErr)
	}
	return closeErr
}
