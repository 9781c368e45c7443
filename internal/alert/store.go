// Package alert turns scored events into alerts: deduplicated, persisted
// for the dashboard query surface and published to the alert channel.
package alert

import (
	"context"
	"time"

	"vigil/internal/event"
)

// Query filters the alert listing. Zero values mean "no filter"; Limit
// is capped by the store.
type Query struct {
	Source string
	From   time.Time
	To     time.Time
	Limit  int
}

// MaxQueryLimit bounds one listing response.
const MaxQueryLimit = 200

// Store persists alerts. List returns newest first.
type Store interface {
	Insert(ctx context.Context, a event.Alert) error
	MarkDelivered(ctx context.Context, a event.Alert) error
	List(ctx context.Context, q Query) ([]*event.Alert, error)
}
