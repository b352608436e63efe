package proc

import (
	"context"
	"sync"

	"github.com/statelet/statelet/pkg/errors"
	"github.com/statelet/statelet/pkg/logger"
	"github.com/statelet/statelet/pkg/registry"
	"github.com/statelet/statelet/pkg/schema"
)

// Handle is the declaration authority for one processing task. It owns the
// state variable descriptors, hands out bound ScalarState/ListState objects,
// and tracks the grouping key the engine currently has bound. Variables read
// the key through the handle at call time, so rebinding between calls can
// never leave a variable on a stale key.
type Handle struct {
	client *registry.Client
	logger *logger.Logger

	mu       sync.Mutex
	sealed   bool
	closed   bool
	key      string
	keyBound bool
	scalars  map[string]*ScalarState
	lists    map[string]*ListState
}

func newHandle(client *registry.Client, log *logger.Logger) *Handle {
	return &Handle{
		client:  client,
		logger:  log,
		scalars: make(map[string]*ScalarState),
		lists:   make(map[string]*ListState),
	}
}

// GetValueState declares a scalar state variable and returns its handle.
// Declaration is idempotent for identical (name, schema) pairs; the same
// name with a different schema fails with ErrSchemaConflict, and any
// declaration after Init fails with ErrLateDeclaration.
func (h *Handle) GetValueState(ctx context.Context, name string, sch *schema.Schema) (*ScalarState, error) {
	if err := h.declarable(); err != nil {
		return nil, errors.WrapStateError(name, "declare", err)
	}

	ref, err := h.client.RegisterScalar(ctx, name, sch)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.scalars[name]; ok {
		return existing, nil
	}
	state := &ScalarState{handle: h, ref: ref, schema: sch}
	h.scalars[name] = state
	h.logger.Debug("declared scalar state", "name", name, "schema", sch.String())
	return state, nil
}

// GetListState declares a list state variable under the same contract as
// GetValueState.
func (h *Handle) GetListState(ctx context.Context, name string, sch *schema.Schema) (*ListState, error) {
	if err := h.declarable(); err != nil {
		return nil, errors.WrapStateError(name, "declare", err)
	}

	ref, err := h.client.RegisterList(ctx, name, sch)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.lists[name]; ok {
		return existing, nil
	}
	state := &ListState{handle: h, ref: ref, schema: sch}
	h.lists[name] = state
	h.logger.Debug("declared list state", "name", name, "schema", sch.String())
	return state, nil
}

func (h *Handle) declarable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.ErrHandleClosed
	}
	if h.sealed {
		return errors.ErrLateDeclaration
	}
	return nil
}

// seal marks the declaration phase finished; called when Init returns
func (h *Handle) seal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sealed = true
}

// bindKey scopes all subsequent state operations to key
func (h *Handle) bindKey(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = key
	h.keyBound = true
}

// unbindKey clears the key binding between invocations
func (h *Handle) unbindKey() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = ""
	h.keyBound = false
}

// boundKey returns the key state operations must use right now
func (h *Handle) boundKey() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", errors.ErrHandleClosed
	}
	if !h.keyBound {
		return "", errors.ErrInvalidKeyState
	}
	return h.key, nil
}

// close invalidates the handle; all later operations fail with ErrHandleClosed
func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.keyBound = false
	h.key = ""
}
