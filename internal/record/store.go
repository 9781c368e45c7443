// Package record persists normalized events for lookup and auditing.
package record

import (
	"context"
	"time"

	"vigil/internal/event"
	id "vigil/pkg/domain"
)

// StoredRecord is a normalized record as the durable store sees it: the
// vector plus enough event context to audit it, and the anomaly score once
// scoring finished.
type StoredRecord struct {
	Record         event.NormalizedRecord
	Source         string
	EventTimestamp time.Time
	Status         event.Status
	Score          *event.AnomalyScore
}

// Store is the durable store contract. Writes are atomic per event id.
//
// Insert is idempotent per (event_id, version): a redelivered event writes
// the same key and the duplicate is dropped, never silently overwritten.
// Reprocessing under a new normalization version inserts a new row.
type Store interface {
	Insert(ctx context.Context, e event.AuditEvent, rec event.NormalizedRecord) error

	// AttachScore stores the score columns and marks the row scored in
	// one write.
	AttachScore(ctx context.Context, score event.AnomalyScore, version int) error
	SetStatus(ctx context.Context, eventID id.EventID, version int, status event.Status) error

	// Latest returns the newest version for the event id, or
	// sentinel.ErrNotFound (wrapped) if the event was never stored.
	Latest(ctx context.Context, eventID id.EventID) (*StoredRecord, error)

	// Versions returns all versions for the event id, newest first.
	Versions(ctx context.Context, eventID id.EventID) ([]*StoredRecord, error)
}
