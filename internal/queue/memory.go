package queue

import (
	"context"
	"sync"

	"vigil/internal/event"
	id "vigil/pkg/domain"
)

// Memory is an in-process queue with the same at-least-once contract as the
// Kafka implementation: a dequeued event stays in flight until Ack, and Nack
// makes it immediately redeliverable. Used in tests and dev mode.
type Memory struct {
	mu       sync.Mutex
	ready    chan event.AuditEvent
	inflight map[id.EventID]event.AuditEvent
	closed   bool
}

// NewMemory creates a memory queue with the given buffer capacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		ready:    make(chan event.AuditEvent, capacity),
		inflight: make(map[id.EventID]event.AuditEvent),
	}
}

func (m *Memory) Enqueue(ctx context.Context, e event.AuditEvent) error {
	select {
	case m.ready <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case e := <-m.ready:
		m.mu.Lock()
		m.inflight[e.ID] = e
		m.mu.Unlock()

		return &Delivery{
			Event: e,
			ack: func(context.Context) error {
				m.mu.Lock()
				delete(m.inflight, e.ID)
				m.mu.Unlock()
				return nil
			},
			nack: func(ctx context.Context) error {
				m.mu.Lock()
				delete(m.inflight, e.ID)
				m.mu.Unlock()
				return m.Enqueue(ctx, e)
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inflight returns how many events were dequeued but not yet acknowledged.
func (m *Memory) Inflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Len returns how many events are waiting for delivery.
func (m *Memory) Len() int {
	return len(m.ready)
}

func (m *Memory) Close() {}
