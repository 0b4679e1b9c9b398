package vector

import (
	"fmt"
	"sync"
)

// MemoryIndex is an in-memory embedding index. Records are only ever replaced
// wholesale, so readers see either the previous or the new record set.
type MemoryIndex struct {
	dimensions int
	ids        []string
	records    map[string]Record
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make(map[string]Record),
	}, nil
}

// Dimensions returns the vector length the index accepts.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Replace swaps in records as the whole content of the index. Vectors are
// copied. A later record with a duplicate entity id wins.
func (m *MemoryIndex) Replace(records []Record) error {
	ids := make([]string, 0, len(records))
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		if r.EntityID == "" {
			return fmt.Errorf("record without entity id")
		}
		if len(r.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", r.EntityID, len(r.Vector), m.dimensions)
		}
		if _, dup := byID[r.EntityID]; !dup {
			ids = append(ids, r.EntityID)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, r.Vector)
		byID[r.EntityID] = Record{EntityID: r.EntityID, Vector: vec, SourceText: r.SourceText}
	}

	m.mu.Lock()
	m.ids = ids
	m.records = byID
	m.mu.Unlock()
	return nil
}

// Get returns the record for an entity id.
func (m *MemoryIndex) Get(entityID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[entityID]
	return r, ok
}

// Records returns all records in insertion order. Vectors are shared with the
// index and must not be modified.
func (m *MemoryIndex) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.ids))
	for i, id := range m.ids {
		out[i] = m.records[id]
	}
	return out
}

// Size returns the number of records in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Reset empties the index.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	m.ids = nil
	m.records = make(map[string]Record)
	m.mu.Unlock()
}
