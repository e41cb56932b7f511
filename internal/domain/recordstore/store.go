// Package recordstore declares the collaborator that owns domain records
// mirrored from the change stream. The relay only calls it; persistence rules
// live with the collaborator.
package recordstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Store receives the record mutation implied by each relevant change event.
type Store interface {
	Upsert(ctx context.Context, key string, doc json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// Memory keeps records in a map. Used for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
}

// NewMemory constructs an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]json.RawMessage)}
}

// Upsert stores doc under key, replacing any previous value.
func (m *Memory) Upsert(_ context.Context, key string, doc json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("record store: key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = append(json.RawMessage(nil), doc...)
	return nil
}

// Delete removes the record under key. Deleting an absent key is a no-op.
func (m *Memory) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("record store: key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// Get returns the stored record and whether it exists.
func (m *Memory) Get(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.records[key]
	return doc, ok
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
