package tokenstore

import (
	"context"
	"maps"
	"sync"
)

// Record is the flat key/value view a backend persists. Keys are the
// token.Key* constants.
type Record map[string]string

// Backend is one persistence location for the token record.
type Backend interface {
	Name() string
	// Load returns the stored record. A missing record is not an error.
	Load(ctx context.Context) (Record, error)
	// Save merges rec into the stored record.
	Save(ctx context.Context, rec Record) error
	// Delete removes keys. Deleting absent keys is not an error.
	Delete(ctx context.Context, keys ...string) error
}

// MemoryBackend keeps the record for the lifetime of the process. It plays
// the role of per-tab session storage.
type MemoryBackend struct {
	mu  sync.RWMutex
	rec Record
}

// NewMemoryBackend returns an empty session-scoped backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rec: Record{}}
}

func (m *MemoryBackend) Name() string { return "session" }

func (m *MemoryBackend) Load(context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.rec), nil
}

func (m *MemoryBackend) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.rec, rec)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.rec, k)
	}
	return nil
}
