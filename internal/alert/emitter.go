package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/event"
	"vigil/internal/platform/metrics"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Emitter implements the processor's alert sink: claim the event id in
// the dedup window, persist the alert, publish it to the dashboard
// channel. Exactly one alert per event id inside the window.
type Emitter struct {
	deduper   Deduper
	store     Store
	publisher Publisher
	window    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewEmitter creates an alert emitter with the given dedup window.
func NewEmitter(
	deduper Deduper,
	store Store,
	publisher Publisher,
	window time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Emitter {
	return &Emitter{
		deduper:   deduper,
		store:     store,
		publisher: publisher,
		window:    window,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Emit raises the alert for a scored event unless the event id already
// alerted inside the dedup window.
//
// The row is persisted before the dedup claim is taken. Claiming first
// would let a failed insert leave a claim behind, and the retried emit
// would then be suppressed with no row and no publish. Insert is
// idempotent per event id, so a retry after a transient store failure
// re-runs the whole emit safely.
func (em *Emitter) Emit(ctx context.Context, e event.AuditEvent, score event.AnomalyScore) error {
	a := event.Alert{
		ID:          id.NewAlertID(),
		EventID:     e.ID,
		Source:      e.Source,
		Score:       score.Score,
		Summary:     summarize(e, score),
		GeneratedAt: em.now().UTC(),
		Delivery:    event.DeliveryPending,
	}

	if err := em.store.Insert(ctx, a); err != nil {
		return dErrors.Wrap(err, dErrors.CodeOf(err), "persist alert")
	}

	claimed, err := em.deduper.Claim(ctx, e.ID, em.window)
	if err != nil {
		// A broken dedup store must not swallow alerts. Proceed as if
		// claimed; the store's event_id constraint still prevents
		// duplicate rows.
		em.logger.WarnContext(ctx, "dedup claim failed, emitting anyway",
			"event_id", e.ID.String(),
			"error", err.Error(),
		)
		claimed = true
	}
	if !claimed {
		em.metrics.AlertsDeduped.Inc()
		em.logger.InfoContext(ctx, "alert suppressed by dedup window",
			"event_id", e.ID.String(),
			"source", e.Source,
		)
		return nil
	}

	if err := em.publisher.Publish(ctx, a); err != nil {
		// The alert row exists with delivery pending; retrying the whole
		// emit would be suppressed by dedup, so surface the miss in the
		// log and let the pending status mark it for reconciliation.
		em.logger.ErrorContext(ctx, "alert publish failed, left pending",
			"alert_id", a.ID.String(),
			"event_id", e.ID.String(),
			"error", err.Error(),
		)
		return nil
	}

	if err := em.store.MarkDelivered(ctx, a); err != nil {
		em.logger.WarnContext(ctx, "could not mark alert delivered",
			"alert_id", a.ID.String(),
			"error", err.Error(),
		)
	}

	em.metrics.AlertsEmitted.Inc()
	em.logger.InfoContext(ctx, "alert emitted",
		"alert_id", a.ID.String(),
		"event_id", e.ID.String(),
		"source", e.Source,
		"score", score.Score,
	)
	return nil
}

// summarize builds the one-line description shown on the dashboard.
func summarize(e event.AuditEvent, score event.AnomalyScore) string {
	return fmt.Sprintf("anomalous activity from %s: score %.2f exceeds threshold %.2f",
		e.Source, score.Score, score.Threshold)
}
