package cache

import (
	"context"
	"maps"
	"sync"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
)

// Memory is an in-process Index. Entries are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	entries map[fingerprint.Fingerprint]Entry
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[fingerprint.Fingerprint]Entry)}
}

func (m *Memory) Lookup(_ context.Context, fp fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fp]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(e.Outputs), true, nil
}

func (m *Memory) Record(_ context.Context, fp fingerprint.Fingerprint, entry Entry) error {
	entry = entry.Clone()
	entry.Fingerprint = fp
	m.mu.Lock()
	m.entries[fp] = entry
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entry returns the stored entry for fp.
func (m *Memory) Entry(fp fingerprint.Fingerprint) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fp]
	return e.Clone(), ok
}
