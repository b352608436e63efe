package storage

import (
	"context"
	"strconv"
	"sync"
)

// memoryBackend is an in-memory implementation of the Backend interface.
// It is the default backend and the one used in tests; all data is lost on
// restart, which is acceptable for state that is recomputed per deployment.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates a new in-memory storage backend
func NewMemoryBackend() Backend {
	return &memoryBackend{
		entries: make(map[string]Entry),
	}
}

func (m *memoryBackend) Put(ctx context.Context, name, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the payload to avoid external mutations
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)

	m.entries[cellKey(name, key)] = Entry{Kind: entry.Kind, Payload: payload}
	return nil
}

func (m *memoryBackend) Get(ctx context.Context, name, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[cellKey(name, key)]
	if !ok {
		return Entry{}, false, nil
	}

	// Return a copy to prevent external mutations
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	return Entry{Kind: entry.Kind, Payload: payload}, true, nil
}

func (m *memoryBackend) Delete(ctx context.Context, name, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, cellKey(name, key))
	return nil
}

func (m *memoryBackend) Exists(ctx context.Context, name, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[cellKey(name, key)]
	return ok, nil
}

func (m *memoryBackend) Close() error {
	// No resources to clean up for memory backend
	return nil
}

func (m *memoryBackend) HealthCheck(ctx context.Context) error {
	// Memory backend is always healthy
	return nil
}

// cellKey builds the composite map key for (state name, grouping key).
// The name length prefix keeps the encoding injective for arbitrary bytes
// in either component, including the separator itself.
func cellKey(name, key string) string {
	return strconv.Itoa(len(name)) + "\x00" + name + key
}
