package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key Key, now time.Time) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	e.HitCount++
	e.LastAccessed = now
	cp := *e
	return &cp, true, nil
}

func (m *MemoryStore) Insert(_ context.Context, e *Entry) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[e.Key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *e
	m.entries[e.Key] = &cp
	return nil, true, nil
}

func (m *MemoryStore) List(_ context.Context) ([]EntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntryInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.EntryInfo)
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.entries[k]; ok {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
