package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/event"
	"vigil/internal/platform/metrics"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

func newTestEmitter(t *testing.T) (*Emitter, *MemoryStore, *MemoryPublisher, *MemoryDeduper) {
	t.Helper()
	deduper := NewMemoryDeduper()
	store := NewMemoryStore()
	publisher := NewMemoryPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	em := NewEmitter(deduper, store, publisher, 15*time.Minute, logger, metrics.NewWith(prometheus.NewRegistry()))
	return em, store, publisher, deduper
}

func scoredEvent() (event.AuditEvent, event.AnomalyScore) {
	e := event.AuditEvent{
		ID:         id.NewEventID(),
		Source:     "aws.cloudtrail",
		Timestamp:  time.Now().UTC(),
		Status:     event.StatusScored,
		ReceivedAt: time.Now().UTC(),
	}
	score := event.AnomalyScore{
		EventID:   e.ID,
		Score:     0.93,
		Threshold: 0.8,
		Decision:  event.DecisionAlert,
	}
	return e, score
}

func TestEmitter_Emit(t *testing.T) {
	t.Run("persists and publishes one alert", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		e, score := scoredEvent()

		require.NoError(t, em.Emit(context.Background(), e, score))

		alerts, err := store.List(context.Background(), Query{})
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		a := alerts[0]
		assert.Equal(t, e.ID, a.EventID)
		assert.Equal(t, "aws.cloudtrail", a.Source)
		assert.InDelta(t, 0.93, a.Score, 1e-9)
		assert.Contains(t, a.Summary, "aws.cloudtrail")
		assert.Contains(t, a.Summary, "0.93")
		assert.Equal(t, event.DeliveryDelivered, a.Delivery)

		require.Len(t, publisher.Published(), 1)
		assert.Equal(t, a.ID, publisher.Published()[0].ID)
	})

	t.Run("second emit inside the window is suppressed", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		e, score := scoredEvent()

		require.NoError(t, em.Emit(context.Background(), e, score))
		require.NoError(t, em.Emit(context.Background(), e, score))

		assert.Equal(t, 1, store.Len())
		assert.Len(t, publisher.Published(), 1)
	})

	t.Run("distinct events alert independently", func(t *testing.T) {
		em, store, _, _ := newTestEmitter(t)
		first, firstScore := scoredEvent()
		second, secondScore := scoredEvent()

		require.NoError(t, em.Emit(context.Background(), first, firstScore))
		require.NoError(t, em.Emit(context.Background(), second, secondScore))

		assert.Equal(t, 2, store.Len())
	})

	t.Run("window expiry allows a fresh alert, store still dedups the row", func(t *testing.T) {
		em, store, publisher, deduper := newTestEmitter(t)
		e, score := scoredEvent()

		base := time.Now()
		deduper.SetClock(func() time.Time { return base })
		require.NoError(t, em.Emit(context.Background(), e, score))

		deduper.SetClock(func() time.Time { return base.Add(16 * time.Minute) })
		require.NoError(t, em.Emit(context.Background(), e, score))

		// The claim succeeded again but the alerts table is keyed by
		// event id, so no second row appears.
		assert.Equal(t, 1, store.Len())
		assert.Len(t, publisher.Published(), 2)
	})

	t.Run("dedup store failure does not swallow the alert", func(t *testing.T) {
		em, store, _, _ := newTestEmitter(t)
		em.deduper = failingDeduper{err: dErrors.New(dErrors.CodeUnavailable, "redis down")}
		e, score := scoredEvent()

		require.NoError(t, em.Emit(context.Background(), e, score))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("store failure propagates for retry", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		store.FailWith(dErrors.New(dErrors.CodeUnavailable, "postgres down"))
		e, score := scoredEvent()

		err := em.Emit(context.Background(), e, score)
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
		assert.Empty(t, publisher.Published())
	})

	t.Run("store failure does not consume the dedup claim", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		store.FailWith(dErrors.New(dErrors.CodeUnavailable, "postgres down"))
		e, score := scoredEvent()

		err := em.Emit(context.Background(), e, score)
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))

		// The retried emit after the store recovers must deliver the
		// alert, not get suppressed by a claim left over from the
		// failed attempt.
		store.FailWith(nil)
		require.NoError(t, em.Emit(context.Background(), e, score))

		assert.Equal(t, 1, store.Len())
		require.Len(t, publisher.Published(), 1)
		assert.Equal(t, e.ID, publisher.Published()[0].EventID)
	})

	t.Run("publish failure leaves the alert pending", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		publisher.FailWith(dErrors.New(dErrors.CodeUnavailable, "broker down"))
		e, score := scoredEvent()

		require.NoError(t, em.Emit(context.Background(), e, score))

		alerts, err := store.List(context.Background(), Query{})
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, event.DeliveryPending, alerts[0].Delivery)
	})

	t.Run("concurrent emits for one event produce one alert", func(t *testing.T) {
		em, store, publisher, _ := newTestEmitter(t)
		e, score := scoredEvent()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = em.Emit(context.Background(), e, score)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, store.Len())
		assert.Len(t, publisher.Published(), 1)
	})
}

type failingDeduper struct{ err error }

func (d failingDeduper) Claim(context.Context, id.EventID, time.Duration) (bool, error) {
	return false, d.err
}
