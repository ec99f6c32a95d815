package storage

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps objects in process memory, for tests and single-node use.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	maxSize int64
}

// NewMemory creates an empty store. A positive maxSize caps object size.
func NewMemory(maxSize int64) *Memory {
	return &Memory{objects: make(map[string][]byte), maxSize: maxSize}
}

func (m *Memory) Put(_ context.Context, key, _ string, data []byte) error {
	if m.maxSize > 0 && int64(len(data)) > m.maxSize {
		return ErrTooLarge
	}
	m.mu.Lock()
	m.objects[key] = slices.Clone(data)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ Storage = (*Memory)(nil)
