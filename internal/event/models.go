// Package event defines the audit event model shared by every pipeline
// stage. Keep it transport-agnostic so queues, stores and sinks can fan out.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// Status tracks an event through the pipeline. Events are immutable after
// creation except for status transitions.
type Status string

const (
	StatusReceived    Status = "received"
	StatusNormalizing Status = "normalizing"
	StatusStored      Status = "stored"
	StatusScoring     Status = "scoring"
	StatusScored      Status = "scored"
	StatusAlerted     Status = "alerted"
	StatusFailed      Status = "failed"
)

// legalTransitions is the per-event state machine. Failed is reachable from
// every non-terminal state; Scored and Alerted are reachable only in order.
var legalTransitions = map[Status][]Status{
	StatusReceived:    {StatusNormalizing, StatusFailed},
	StatusNormalizing: {StatusStored, StatusFailed},
	StatusStored:      {StatusScoring, StatusFailed},
	StatusScoring:     {StatusScored, StatusFailed},
	StatusScored:      {StatusAlerted},
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusAlerted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AuditEvent is a discrete record describing a cloud-resource or user action
// to be reviewed. The id is assigned at intake; raw payload stays opaque.
type AuditEvent struct {
	ID         id.EventID      `json:"id"`
	Source     string          `json:"source"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Transition moves the event to next, rejecting illegal jumps so a bug in
// one stage cannot silently corrupt another stage's view of the event.
func (e *AuditEvent) Transition(next Status) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("transition %s -> %s: %w", e.Status, next, sentinel.ErrInvalidState)
	}
	e.Status = next
	return nil
}

// NormalizedRecord is derived 1:1 from an AuditEvent. Records are never
// mutated post-write; reprocessing creates a new record under a new version.
type NormalizedRecord struct {
	EventID   id.EventID `json:"event_id"`
	Vector    []float64  `json:"vector"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
}

// Decision is the outcome attached to an anomaly score.
type Decision string

const (
	DecisionAlert  Decision = "alert"
	DecisionBenign Decision = "benign"
)

// AnomalyScore is the inference endpoint's verdict for one event. Score is
// bounded to [0,1]; anything outside that range is rejected, never clamped.
type AnomalyScore struct {
	EventID   id.EventID `json:"event_id"`
	Score     float64    `json:"score"`
	Threshold float64    `json:"threshold"`
	Decision  Decision   `json:"decision"`
}

// Valid reports whether the score is inside its documented bounds and the
// decision is a known value. The decision is not cross-checked against the
// threshold; the endpoint may apply its own cutoff logic.
func (s AnomalyScore) Valid() bool {
	if s.Score < 0 || s.Score > 1 {
		return false
	}
	switch s.Decision {
	case DecisionAlert, DecisionBenign:
		return true
	}
	return false
}

// DeliveryStatus tracks alert delivery to the dashboard channel.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// Alert is created only when decision = alert, exactly once per event id
// within the dedup window. It references the chain event -> record -> score.
type Alert struct {
	ID          id.AlertID     `json:"id"`
	EventID     id.EventID     `json:"event_id"`
	Source      string         `json:"source"`
	Score       float64        `json:"score"`
	Summary     string         `json:"summary"`
	GeneratedAt time.Time      `json:"generated_at"`
	Delivery    DeliveryStatus `json:"delivery"`
}
