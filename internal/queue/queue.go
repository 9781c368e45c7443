// Package queue abstracts the at-least-once event queue between intake and
// the processor workers. Consumers must be idempotent: an event may be
// redelivered whenever it was dequeued but never acknowledged.
package queue

import (
	"context"

	"vigil/internal/event"
)

// Producer enqueues events. Enqueue returns only after the write is durable,
// so intake can acknowledge the submitting producer safely.
type Producer interface {
	Enqueue(ctx context.Context, e event.AuditEvent) error
}

// Delivery is one dequeued event. Exactly one of Ack or Nack should be
// called: Ack marks the event processed, Nack leaves it redeliverable.
type Delivery struct {
	Event event.AuditEvent

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack marks the delivery as processed.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack returns the delivery to the queue for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// Consumer delivers events to processor workers. Dequeue blocks until an
// event is available or ctx is done. Multiple workers may share a Consumer.
type Consumer interface {
	Dequeue(ctx context.Context) (*Delivery, error)
	Close()
}
