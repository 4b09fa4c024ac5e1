package jobstore

import (
	"context"
	"fmt"
	"sync"

	"itera/internal/domain"
)

// Memory is a process-lifetime store. Records are never evicted.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]Record
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]Record)}
}

func (m *Memory) Set(_ context.Context, id string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = rec.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Update(_ context.Context, id string, fn UpdateFunc) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Record{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	next := rec.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	m.jobs[id] = next.Clone()
	return next, nil
}

var _ Store = (*Memory)(nil)
