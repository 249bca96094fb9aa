// ABOUTME: In-memory CredentialStore implementation
// ABOUTME: Allows tests and ephemeral sessions to run without touching disk

package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory CredentialStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string

	// FailWith, when set, is returned (wrapped) from every operation.
	FailWith error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Set stores value under key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return wrapErr("set", key, m.FailWith)
	}
	m.values[key] = value
	return nil
}

// Get returns the value for key or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailWith != nil {
		return "", wrapErr("get", key, m.FailWith)
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Delete removes key. Missing keys are ignored.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return wrapErr("delete", key, m.FailWith)
	}
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
