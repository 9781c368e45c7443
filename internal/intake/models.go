package intake

import (
	"encoding/json"
	"time"
)

// SubmitRequest is the wire format a producer posts to /events.
type SubmitRequest struct {
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SubmitResponse acknowledges a durable enqueue. The id is the handle
// producers use to correlate later alerts.
type SubmitResponse struct {
	EventID string `json:"event_id"`
}
