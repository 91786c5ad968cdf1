package pending

import (
	"context"
	"errors"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[string]Record{}}
}

func (m *MemoryRepository) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.StateID]; exists {
		return errors.New("pending: duplicate state id")
	}
	m.records[rec.StateID] = rec
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, stateID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[stateID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryRepository) Take(_ context.Context, stateID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[stateID]
	if !ok {
		return nil, nil
	}
	delete(m.records, stateID)
	return &rec, nil
}

func (m *MemoryRepository) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
