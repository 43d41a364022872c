package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the session cache. It is the default backend.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, payload []byte, sha string) error {
	p := make([]byte, len(payload))
	copy(p, payload)
	m.mu.Lock()
	m.entries[key] = Entry{Status: Success, Payload: p, SHA: sha, StoredAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutNegative(_ context.Context, key string, sha string) error {
	m.mu.Lock()
	m.entries[key] = Entry{Status: Negative, SHA: sha, StoredAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Evict(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
