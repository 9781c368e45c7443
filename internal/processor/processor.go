// Package processor drives dequeued events through the pipeline: normalize,
// store, score, alert. Workers share one consumer; each event is handled to
// a terminal status before it is acknowledged, so a crash mid-flight leaves
// the event redeliverable and the idempotent store absorbs the replay.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/archive"
	"vigil/internal/event"
	"vigil/internal/inference"
	"vigil/internal/platform/metrics"
	"vigil/internal/queue"
	"vigil/internal/record"
	dErrors "vigil/pkg/domain-errors"
)

// Alerter emits an alert for a scored event. Implementations must
// deduplicate by event id so redeliveries cannot double-alert.
type Alerter interface {
	Emit(ctx context.Context, e event.AuditEvent, score event.AnomalyScore) error
}

// Processor owns the worker pool.
type Processor struct {
	consumer   queue.Consumer
	store      record.Store
	scorer     inference.Scorer
	archiver   archive.Archiver
	alerter    Alerter
	normalizer *event.Normalizer
	backoff    Backoff
	logger     *slog.Logger
	metrics    *metrics.Metrics

	archiveTimeout time.Duration
}

// Option overrides processor defaults.
type Option func(*Processor)

// WithBackoff overrides the retry policy.
func WithBackoff(b Backoff) Option {
	return func(p *Processor) { p.backoff = b }
}

// WithArchiveTimeout bounds each fire-and-forget archive write.
func WithArchiveTimeout(d time.Duration) Option {
	return func(p *Processor) { p.archiveTimeout = d }
}

// New creates a processor.
func New(
	consumer queue.Consumer,
	store record.Store,
	scorer inference.Scorer,
	archiver archive.Archiver,
	alerter Alerter,
	normalizer *event.Normalizer,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Processor {
	p := &Processor{
		consumer:       consumer,
		store:          store,
		scorer:         scorer,
		archiver:       archiver,
		alerter:        alerter,
		normalizer:     normalizer,
		backoff:        DefaultBackoff(),
		logger:         logger,
		metrics:        m,
		archiveTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts workers goroutines and blocks until ctx is cancelled. A
// failure handling one event never stops a worker; only context
// cancellation ends the pool.
func (p *Processor) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) work(ctx context.Context, worker int) error {
	for {
		delivery, err := p.consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.ErrorContext(ctx, "dequeue failed",
				"worker", worker,
				"error", err.Error(),
			)
			continue
		}

		if err := p.handle(ctx, delivery.Event); err != nil {
			// The event could not be driven to any terminal status,
			// typically because the store itself is down. Leave it on
			// the queue for redelivery.
			p.logger.ErrorContext(ctx, "event left for redelivery",
				"worker", worker,
				"event_id", delivery.Event.ID.String(),
				"error", err.Error(),
			)
			if nackErr := delivery.Nack(ctx); nackErr != nil {
				p.logger.ErrorContext(ctx, "nack failed",
					"event_id", delivery.Event.ID.String(),
					"error", nackErr.Error(),
				)
			}
			continue
		}

		if ackErr := delivery.Ack(ctx); ackErr != nil {
			// The work is done and the store is idempotent; a failed
			// ack only means a harmless redelivery later.
			p.logger.WarnContext(ctx, "ack failed",
				"event_id", delivery.Event.ID.String(),
				"error", ackErr.Error(),
			)
		}
	}
}

// handle drives one event to a terminal status. It returns an error only
// when not even the failed status could be recorded; every other outcome,
// including permanent processing failures, resolves to nil so the
// delivery gets acknowledged.
func (p *Processor) handle(ctx context.Context, e event.AuditEvent) error {
	started := time.Now()

	// Cold archive of the raw event is fire and forget: it runs on its
	// own context so a slow or dead archive never stalls the pipeline.
	go p.archiveRaw(e)

	if err := e.Transition(event.StatusNormalizing); err != nil {
		return p.markFailed(ctx, e, event.NormalizedRecord{}, err)
	}

	rec, err := p.normalizer.Normalize(e)
	if err != nil {
		p.logger.WarnContext(ctx, "normalization rejected payload",
			"event_id", e.ID.String(),
			"source", e.Source,
			"error", err.Error(),
		)
		return p.markFailed(ctx, e, event.NormalizedRecord{}, err)
	}

	if err := e.Transition(event.StatusStored); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}
	if err := p.retry(ctx, "store insert", e.ID.String(), func() error {
		return p.store.Insert(ctx, e, rec)
	}); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}

	if err := e.Transition(event.StatusScoring); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}
	var score event.AnomalyScore
	if err := p.retry(ctx, "inference", e.ID.String(), func() error {
		var scoreErr error
		score, scoreErr = p.scorer.Score(ctx, rec)
		return scoreErr
	}); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}

	if err := p.retry(ctx, "attach score", e.ID.String(), func() error {
		return p.store.AttachScore(ctx, score, rec.Version)
	}); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}
	if err := e.Transition(event.StatusScored); err != nil {
		return p.markFailed(ctx, e, rec, err)
	}

	p.metrics.EventsProcessed.Inc()
	p.metrics.ObserveProcessing(time.Since(started))

	if score.Decision == event.DecisionAlert {
		if err := p.emitAlert(ctx, e, rec, score); err != nil {
			// The event is durably scored; losing the alert emit is
			// logged loudly but must not fail the event.
			p.logger.ErrorContext(ctx, "alert emit failed",
				"event_id", e.ID.String(),
				"source", e.Source,
				"score", score.Score,
				"error", err.Error(),
			)
		}
	}

	p.logger.InfoContext(ctx, "event processed",
		"event_id", e.ID.String(),
		"source", e.Source,
		"status", string(e.Status),
		"score", score.Score,
		"decision", string(score.Decision),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, e event.AuditEvent, rec event.NormalizedRecord, score event.AnomalyScore) error {
	if err := p.retry(ctx, "alert emit", e.ID.String(), func() error {
		return p.alerter.Emit(ctx, e, score)
	}); err != nil {
		return err
	}
	if err := e.Transition(event.StatusAlerted); err != nil {
		return err
	}
	return p.store.SetStatus(ctx, e.ID, rec.Version, event.StatusAlerted)
}

// archiveRaw writes the raw event to the cold archive under a detached
// context. Failures count against a metric and a log line, nothing else.
func (p *Processor) archiveRaw(e event.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.archiveTimeout)
	defer cancel()

	if err := p.archiver.Archive(ctx, e); err != nil {
		p.metrics.ArchiveFailures.Inc()
		p.logger.Error("archive write failed",
			"event_id", e.ID.String(),
			"source", e.Source,
			"error", err.Error(),
		)
	}
}

// markFailed records the failed terminal status durably. Only when even
// that write fails does the error propagate, leaving the event queued.
func (p *Processor) markFailed(ctx context.Context, e event.AuditEvent, rec event.NormalizedRecord, cause error) error {
	if err := p.retry(ctx, "record failed status", e.ID.String(), func() error {
		return p.writeFailed(ctx, e, rec)
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not record failed status")
	}

	p.metrics.EventsFailed.Inc()
	p.logger.WarnContext(ctx, "event failed",
		"event_id", e.ID.String(),
		"source", e.Source,
		"error", cause.Error(),
	)
	return nil
}

// writeFailed persists the failed status, inserting a stub row when the
// event never made it into the store (normalization rejected it, or the
// insert itself failed permanently).
func (p *Processor) writeFailed(ctx context.Context, e event.AuditEvent, rec event.NormalizedRecord) error {
	if rec.Version != 0 {
		err := p.store.SetStatus(ctx, e.ID, rec.Version, event.StatusFailed)
		if err == nil || !record.IsNotFound(err) {
			return err
		}
	}

	stub := event.NormalizedRecord{
		EventID:   e.ID,
		Version:   event.NormalizationVersion,
		CreatedAt: time.Now().UTC(),
	}
	if rec.Version != 0 {
		stub.Version = rec.Version
		stub.Vector = rec.Vector
	}
	failedEvent := e
	failedEvent.Status = event.StatusFailed
	return p.store.Insert(ctx, failedEvent, stub)
}

// retry runs fn, retrying transient failures with capped exponential
// backoff. Permanent failures return immediately; exhaustion converts
// the last transient error into a permanent one.
func (p *Processor) retry(ctx context.Context, op, eventID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.backoff.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !dErrors.Transient(err) {
			return err
		}
		if attempt == p.backoff.MaxAttempts {
			break
		}

		p.metrics.Retries.Inc()
		delay := p.backoff.Delay(attempt)
		p.logger.WarnContext(ctx, "transient failure, backing off",
			"op", op,
			"event_id", eventID,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeUnavailable, op+" cancelled")
		case <-time.After(delay):
		}
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op+" retries exhausted")
}
