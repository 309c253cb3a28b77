package store

import (
	"context"
	"sync"

	"github.com/odyssey-erp/consolbatch/internal/ledger"
)

// Memory is an in-process Store used by local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]Entry)}
}

// Put stores a copy of entry under key.
func (m *Memory) Put(ctx context.Context, key Key, entry Entry) error {
	entry.Lines = append([]ledger.Line(nil), entry.Lines...)
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Get returns the entry stored under key.
func (m *Memory) Get(ctx context.Context, key Key) (Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Lines = append([]ledger.Line(nil), entry.Lines...)
	return entry, nil
}

// Keys lists every key written so far.
func (m *Memory) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}
