package stash

import (
	"context"
	"sync"
)

// Memory implements Stash in process memory for tests
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	data []byte
	meta Meta
}

// NewMemory creates an empty in-memory stash
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.records[key] = memoryRecord{data: cp, meta: meta}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, Meta{}, ErrAbsent
	}
	return rec.data, rec.meta, nil
}

func (m *Memory) Head(_ context.Context, key string) (Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return Meta{}, ErrAbsent
	}
	return rec.meta, nil
}

// Len returns the number of stored records (test helper)
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
