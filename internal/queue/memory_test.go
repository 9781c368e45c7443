package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/event"
	id "vigil/pkg/domain"
)

func TestMemory_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(8)

	e := event.AuditEvent{ID: id.NewEventID(), Source: "s1", Status: event.StatusReceived}
	require.NoError(t, q.Enqueue(ctx, e))
	assert.Equal(t, 1, q.Len())

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.ID, d.Event.ID)
	assert.Equal(t, 1, q.Inflight())

	require.NoError(t, d.Ack(ctx))
	assert.Zero(t, q.Inflight())
	assert.Zero(t, q.Len())
}

func TestMemory_NackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(8)

	e := event.AuditEvent{ID: id.NewEventID(), Source: "s1"}
	require.NoError(t, q.Enqueue(ctx, e))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx))

	// The same event comes back.
	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.ID, redelivered.Event.ID)
}

func TestMemory_DequeueHonorsContext(t *testing.T) {
	q := NewMemory(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_ConcurrentConsumers(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(64)

	const total = 50
	for range total {
		require.NoError(t, q.Enqueue(ctx, event.AuditEvent{ID: id.NewEventID()}))
	}

	seen := make(chan id.EventID, total)
	for range 4 {
		go func() {
			for {
				d, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				_ = d.Ack(ctx)
				seen <- d.Event.ID
			}
		}()
	}

	unique := make(map[id.EventID]struct{})
	deadline := time.After(2 * time.Second)
	for len(unique) < total {
		select {
		case eid := <-seen:
			// Each event is delivered to exactly one worker before ack.
			_, dup := unique[eid]
			require.False(t, dup, "event %s delivered twice without nack", eid)
			unique[eid] = struct{}{}
		case <-deadline:
			t.Fatalf("only %d of %d events consumed", len(unique), total)
		}
	}
}
