// Package lock serializes routing work per lead.
package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LeadKey is the lock key guarding all routing state of a lead.
func LeadKey(tenantID, leadID uuid.UUID) string {
	return "routing:lead:" + tenantID.String() + ":" + leadID.String()
}

type entry struct {
	slot chan struct{}
	refs int
}

// Memory is a keyed mutex for a single process. Waiters on the same key are
// served in arrival order.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemory creates an empty keyed mutex.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			m.release(key, e)
		})
	}, nil
}

func (m *Memory) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len reports how many keys are held or awaited.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
