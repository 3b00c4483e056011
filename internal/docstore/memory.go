package docstore

import (
	"context"
	"sync"
)

// Memory keeps documents in a map. It is the default store for a single
// instance without persistence, and the fake used in tests.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Fetch(_ context.Context, docID string, _ Credentials) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *Memory) Save(_ context.Context, docID, text string, version int, _ Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.docs[docID]; ok && cur.Version > version {
		return ErrConflict
	}
	m.docs[docID] = Document{ID: docID, Text: text, Version: version}
	return nil
}

func (m *Memory) Close() error { return nil }
