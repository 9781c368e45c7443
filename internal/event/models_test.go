package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

func TestStatusTransitions(t *testing.T) {
	t.Run("happy path walks the full chain", func(t *testing.T) {
		e := AuditEvent{ID: id.NewEventID(), Status: StatusReceived}
		for _, next := range []Status{StatusNormalizing, StatusStored, StatusScoring, StatusScored, StatusAlerted} {
			require.NoError(t, e.Transition(next))
		}
		assert.True(t, e.Status.Terminal())
	})

	t.Run("failed is reachable from every non-terminal state", func(t *testing.T) {
		for _, from := range []Status{StatusReceived, StatusNormalizing, StatusStored, StatusScoring} {
			e := AuditEvent{Status: from}
			assert.NoError(t, e.Transition(StatusFailed), "from %s", from)
		}
	})

	t.Run("skipping a stage is rejected", func(t *testing.T) {
		e := AuditEvent{Status: StatusReceived}
		err := e.Transition(StatusScored)
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
		assert.Equal(t, StatusReceived, e.Status)
	})

	t.Run("terminal states allow nothing", func(t *testing.T) {
		for _, terminal := range []Status{StatusAlerted, StatusFailed} {
			e := AuditEvent{Status: terminal}
			assert.Error(t, e.Transition(StatusReceived), "from %s", terminal)
		}
	})
}

func TestAnomalyScoreValid(t *testing.T) {
	eventID := id.NewEventID()

	valid := AnomalyScore{EventID: eventID, Score: 0.91, Threshold: 0.8, Decision: DecisionAlert}
	assert.True(t, valid.Valid())

	assert.False(t, AnomalyScore{EventID: eventID, Score: -0.1, Decision: DecisionBenign}.Valid())
	assert.False(t, AnomalyScore{EventID: eventID, Score: 1.2, Decision: DecisionAlert}.Valid())
	assert.False(t, AnomalyScore{EventID: eventID, Score: 0.5, Decision: Decision("maybe")}.Valid())
}

func TestAlertChainReferences(t *testing.T) {
	e := AuditEvent{ID: id.NewEventID(), Source: "s1", Timestamp: time.Now(), Status: StatusReceived}

	n := NewNormalizer("tampering")
	record, err := n.Normalize(e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, record.EventID)

	score := AnomalyScore{EventID: record.EventID, Score: 0.95, Threshold: 0.8, Decision: DecisionAlert}
	alert := Alert{ID: id.NewAlertID(), EventID: score.EventID, Source: e.Source, Score: score.Score}

	// Strict 1:1:1:1 chain: every link carries the same event id.
	assert.Equal(t, e.ID, alert.EventID)
}
