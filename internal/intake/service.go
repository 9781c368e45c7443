// Package intake accepts audit event submissions, validates the envelope
// and hands events to the queue. A submission is acknowledged only after
// the enqueue is durable, so an accepted event cannot be lost by a crash.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vigil/internal/event"
	"vigil/internal/platform/metrics"
	"vigil/internal/queue"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Service validates submissions and enqueues accepted events.
type Service struct {
	producer queue.Producer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates the intake service.
func NewService(producer queue.Producer, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		producer: producer,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Submit validates req, assigns an event id and enqueues the event.
// Validation failures are rejected before the event gets an identity;
// a validation failure therefore never produces a failed event.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (event.AuditEvent, error) {
	if err := validate(req); err != nil {
		s.metrics.EventsRejected.Inc()
		return event.AuditEvent{}, err
	}

	e := event.AuditEvent{
		ID:         id.NewEventID(),
		Source:     req.Source,
		Timestamp:  req.Timestamp.UTC(),
		Payload:    req.Payload,
		Status:     event.StatusReceived,
		ReceivedAt: s.now().UTC(),
	}

	if err := s.producer.Enqueue(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "enqueue failed",
			"event_id", e.ID.String(),
			"source", e.Source,
			"error", err.Error(),
		)
		return event.AuditEvent{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "event queue unavailable")
	}

	s.metrics.EventsReceived.Inc()
	return e, nil
}

func validate(req SubmitRequest) error {
	if req.Source == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "source is required")
	}
	if req.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "timestamp is required")
	}
	if len(req.Payload) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	if !json.Valid(req.Payload) {
		return dErrors.New(dErrors.CodeInvalidInput, "payload must be valid JSON")
	}
	return nil
}
