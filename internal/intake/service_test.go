package intake

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/event"
	"vigil/internal/platform/metrics"
	"vigil/internal/queue"
	dErrors "vigil/pkg/domain-errors"
)

type failingProducer struct{ err error }

func (p failingProducer) Enqueue(context.Context, event.AuditEvent) error { return p.err }

func newTestService(t *testing.T, producer queue.Producer) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(producer, logger, metrics.NewWith(prometheus.NewRegistry()))
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Source:    "aws.cloudtrail",
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Payload:   json.RawMessage(`{"action":"DeleteBucket","user":"root"}`),
	}
}

func TestService_Submit(t *testing.T) {
	t.Run("accepts a valid submission and enqueues it", func(t *testing.T) {
		q := queue.NewMemory(8)
		svc := newTestService(t, q)

		e, err := svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		assert.False(t, e.ID.IsNil())
		assert.Equal(t, event.StatusReceived, e.Status)
		assert.False(t, e.ReceivedAt.IsZero())
		assert.Equal(t, 1, q.Len())
	})

	t.Run("assigns a distinct id per submission", func(t *testing.T) {
		q := queue.NewMemory(8)
		svc := newTestService(t, q)

		first, err := svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		second, err := svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("rejects missing source", func(t *testing.T) {
		svc := newTestService(t, queue.NewMemory(8))
		req := validRequest()
		req.Source = ""

		_, err := svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects missing timestamp", func(t *testing.T) {
		svc := newTestService(t, queue.NewMemory(8))
		req := validRequest()
		req.Timestamp = time.Time{}

		_, err := svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non-JSON payload", func(t *testing.T) {
		svc := newTestService(t, queue.NewMemory(8))
		req := validRequest()
		req.Payload = json.RawMessage("not json")

		_, err := svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejected submission is not enqueued", func(t *testing.T) {
		q := queue.NewMemory(8)
		svc := newTestService(t, q)
		req := validRequest()
		req.Payload = nil

		_, err := svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("enqueue failure surfaces as unavailable", func(t *testing.T) {
		svc := newTestService(t, failingProducer{
			err: dErrors.New(dErrors.CodeUnavailable, "broker down"),
		})

		_, err := svc.Submit(context.Background(), validRequest())
		require.Error(t, err)
		assert.True(t, dErrors.Transient(err))
	})
}
