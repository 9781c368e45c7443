// Package domain holds typed identifiers shared across the pipeline.
// Distinct uuid-backed types keep event and alert IDs from being mixed
// up at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// EventID identifies an audit event across the whole pipeline. Every
// normalized record, anomaly score and alert references exactly one EventID.
type EventID uuid.UUID

// AlertID identifies a delivered alert.
type AlertID uuid.UUID

// NewEventID generates a fresh event ID at intake.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// NewAlertID generates a fresh alert ID.
func NewAlertID() AlertID {
	return AlertID(uuid.New())
}

func (id EventID) String() string { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AlertID) String() string { return uuid.UUID(id).String() }
func (id AlertID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders the ID as its canonical UUID string, which is what
// JSON wire formats carry.
func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AlertID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EventID) UnmarshalText(raw []byte) error {
	parsed, err := ParseEventID(string(raw))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AlertID) UnmarshalText(raw []byte) error {
	parsed, err := ParseAlertID(string(raw))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEventID parses and validates an event ID at trust boundaries.
// Empty strings, malformed UUIDs and the nil UUID are all rejected.
func ParseEventID(raw string) (EventID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return EventID{}, err
	}
	return EventID(parsed), nil
}

// ParseAlertID parses and validates an alert ID at trust boundaries.
func ParseAlertID(raw string) (AlertID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return AlertID{}, err
	}
	return AlertID(parsed), nil
}

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid uuid")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil uuid")
	}
	return parsed, nil
}
