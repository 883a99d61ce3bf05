package client

import (
	"context"
	"sync"
)

// MessagesKey is the storage slot holding the serialized conversation log.
const MessagesKey = "chat_messages"

// Storage is a tab-scoped key/value slot. Implementations must make a Save
// visible to the next Load of the same key.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
}

// MemoryStorage keeps slots for the lifetime of the process, the same scope
// a browser tab gives session storage.
type MemoryStorage struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{slots: make(map[string][]byte)}
}

// Load returns a copy of the slot contents.
func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Save replaces the slot contents.
func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.slots[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}
