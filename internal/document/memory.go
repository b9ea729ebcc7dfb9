package document

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps records in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string]Record{}}
}

func (m *MemoryBackend) Insert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("document %s already exists", rec.ID)
	}
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *MemoryBackend) Update(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return fmt.Errorf("document %s: %w", rec.ID, ErrNotFound)
	}
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (m *MemoryBackend) Count(ctx context.Context, classes []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := map[string]struct{}{}
	for _, c := range classes {
		wanted[c] = struct{}{}
	}
	count := 0
	for _, rec := range m.records {
		if _, ok := wanted[rec.Class]; ok {
			count++
		}
	}
	return count, nil
}

func cloneRecord(rec Record) Record {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	rec.Fields = fields
	return rec
}
