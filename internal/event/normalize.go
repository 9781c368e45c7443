package event

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "vigil/pkg/domain-errors"
	platstrings "vigil/pkg/platform/strings"
)

// NormalizationVersion identifies the feature layout below. Bump it whenever
// the vector shape or meaning changes; the record store keys on
// (event_id, version) so old records stay untouched.
const NormalizationVersion = 1

// Feature vector layout, version 1.
const (
	featPayloadBytes = iota
	featFieldCount
	featMaxDepth
	featNumericCount
	featStringCount
	featDetectionCount
	featMaxConfidence
	featWatchedHits
	vectorLen
)

// Normalizer extracts a deterministic feature vector from a raw payload.
// watched holds lower-cased labels that count as anomaly signals when they
// appear in a payload's detections (e.g. "tampering", "intrusion").
type Normalizer struct {
	watched map[string]struct{}
}

// NewNormalizer builds a normalizer from a comma-separated watched label
// list, trimming blanks the way the rest of the config layer does.
func NewNormalizer(watchedLabels string) *Normalizer {
	labels := platstrings.DedupeAndTrimLower(strings.Split(watchedLabels, ","))
	watched := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		watched[label] = struct{}{}
	}
	return &Normalizer{watched: watched}
}

// detection mirrors the optional shape some producers embed in payloads.
type detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Normalize derives a NormalizedRecord from the event. The payload stays
// opaque to the rest of the pipeline; only the normalizer interprets it.
// A payload that is not valid JSON is a validation failure, not a transient one.
func (n *Normalizer) Normalize(e AuditEvent) (NormalizedRecord, error) {
	vector := make([]float64, vectorLen)
	vector[featPayloadBytes] = float64(len(e.Payload))

	if len(e.Payload) > 0 {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(e.Payload, &top); err != nil {
			return NormalizedRecord{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not a JSON object")
		}

		var value any
		if err := json.Unmarshal(e.Payload, &value); err != nil {
			return NormalizedRecord{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not valid JSON")
		}

		vector[featFieldCount] = float64(len(top))
		vector[featMaxDepth] = float64(depth(value))
		numeric, str := countScalars(value)
		vector[featNumericCount] = float64(numeric)
		vector[featStringCount] = float64(str)

		if raw, ok := top["detections"]; ok {
			var detections []detection
			// Malformed detections are ignored, not fatal: the field is an
			// optional producer convention, not part of the intake contract.
			if err := json.Unmarshal(raw, &detections); err == nil {
				vector[featDetectionCount] = float64(len(detections))
				for _, d := range detections {
					if d.Confidence > vector[featMaxConfidence] {
						vector[featMaxConfidence] = d.Confidence
					}
					if _, watched := n.watched[strings.ToLower(d.Label)]; watched {
						vector[featWatchedHits]++
					}
				}
			}
		}
	}

	return NormalizedRecord{
		EventID:   e.ID,
		Vector:    vector,
		Version:   NormalizationVersion,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func depth(value any) int {
	switch v := value.(type) {
	case map[string]any:
		max := 0
		for _, child := range v {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range v {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

func countScalars(value any) (numeric, str int) {
	switch v := value.(type) {
	case map[string]any:
		for _, child := range v {
			n, s := countScalars(child)
			numeric += n
			str += s
		}
	case []any:
		for _, child := range v {
			n, s := countScalars(child)
			numeric += n
			str += s
		}
	case float64:
		numeric = 1
	case string:
		str = 1
	}
	return numeric, str
}
