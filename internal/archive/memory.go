package archive

import (
	"context"
	"sync"

	"vigil/internal/event"
	id "vigil/pkg/domain"
)

// Memory is an in-process archiver for tests and dev mode.
type Memory struct {
	mu       sync.RWMutex
	events   map[id.EventID]event.AuditEvent
	failWith error
}

func NewMemory() *Memory {
	return &Memory{events: make(map[id.EventID]event.AuditEvent)}
}

// FailWith makes all subsequent Archive calls return err; nil restores
// normal behavior.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Archive(_ context.Context, e event.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.events[e.ID] = e
	return nil
}

// Has reports whether the event was archived.
func (m *Memory) Has(eventID id.EventID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok
}

// Len returns how many events were archived.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
