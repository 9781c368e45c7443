// Package archive provides cold storage of raw event payloads. Archive
// writes are fire-and-forget relative to the main pipeline: a failure here
// never fails the event.
package archive

import (
	"context"

	"vigil/internal/event"
)

// Archiver stores the raw payload of an event keyed by event id.
type Archiver interface {
	Archive(ctx context.Context, e event.AuditEvent) error
}

// Nop discards everything. Used when no archive backend is configured.
type Nop struct{}

func (Nop) Archive(context.Context, event.AuditEvent) error { return nil }
