package backend

import (
	"context"
	"sync"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/repository"
)

// MemoryStore is a process-local KeyValueStore, the equivalent of a browser
// page's storage: it lives exactly as long as the page's client does.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ repository.KeyValueStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) GetValue(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, apperror.NotFound("cache key", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) PutValue(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) DeleteValue(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
