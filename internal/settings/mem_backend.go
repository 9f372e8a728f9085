package settings

import (
	"context"
	"fmt"
	"sync"
)

// MemBackend is an in-memory Backend for tests that never writes to disk.
// It can simulate an unavailable backend, rejected writes and changes made
// by another process.
type MemBackend struct {
	mu          sync.Mutex
	schema      Schema
	values      map[string]string
	rejected    map[string]bool
	unavailable bool
	watchers    []func(key, value string)
}

// NewMemBackend returns an empty in-memory backend for the given schema.
func NewMemBackend(schema Schema) *MemBackend {
	return &MemBackend{
		schema:   schema,
		values:   make(map[string]string),
		rejected: make(map[string]bool),
	}
}

// GetString returns the stored value or the schema default.
func (m *MemBackend) GetString(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return "", fmt.Errorf("%w: schema %s not installed", ErrUnavailable, m.schema.ID)
	}
	if !m.schema.Has(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return m.schema.Default(key), nil
}

// SetString stores value unless the key was marked with RejectWrites.
func (m *MemBackend) SetString(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return fmt.Errorf("%w: schema %s not installed", ErrUnavailable, m.schema.ID)
	}
	if !m.schema.Has(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if m.rejected[key] {
		return fmt.Errorf("%w: %s", ErrRejected, key)
	}
	m.values[key] = value
	return nil
}

// RejectWrites makes subsequent SetString calls fail for the given keys.
func (m *MemBackend) RejectWrites(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.rejected[k] = true
	}
}

// SetUnavailable toggles whether the backend behaves as if the schema were
// missing.
func (m *MemBackend) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// Change simulates a write by another process: the value is stored and all
// watchers are notified.
func (m *MemBackend) Change(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	watchers := append([]func(string, string){}, m.watchers...)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(key, value)
	}
}

// Watch registers fn for Change notifications until ctx is cancelled.
func (m *MemBackend) Watch(ctx context.Context, fn func(key, value string)) error {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	m.watchers = nil
	m.mu.Unlock()
	return nil
}

// Ensure MemBackend implements the backend interfaces.
var (
	_ Backend = (*MemBackend)(nil)
	_ Watcher = (*MemBackend)(nil)
)
