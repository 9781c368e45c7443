package record

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vigil/internal/event"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

type versionKey struct {
	eventID id.EventID
	version int
}

// MemoryStore mirrors the PostgresStore contract for unit tests and dev
// mode: idempotent inserts per (event_id, version), atomic per event id.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[versionKey]*StoredRecord

	// failWith, when set, makes every call fail. Tests use it to simulate
	// an unavailable store.
	failWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[versionKey]*StoredRecord)}
}

// FailWith makes all subsequent calls return err; nil restores normal
// behavior.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) Insert(_ context.Context, e event.AuditEvent, rec event.NormalizedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	key := versionKey{eventID: rec.EventID, version: rec.Version}
	if _, exists := s.records[key]; exists {
		// Same semantics as ON CONFLICT DO NOTHING.
		return nil
	}
	vector := append([]float64(nil), rec.Vector...)
	stored := rec
	stored.Vector = vector
	s.records[key] = &StoredRecord{
		Record:         stored,
		Source:         e.Source,
		EventTimestamp: e.Timestamp,
		Status:         e.Status,
	}
	return nil
}

func (s *MemoryStore) AttachScore(_ context.Context, score event.AnomalyScore, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	stored, ok := s.records[versionKey{eventID: score.EventID, version: version}]
	if !ok {
		return fmt.Errorf("attach score %s v%d: %w", score.EventID, version, sentinel.ErrNotFound)
	}
	copied := score
	stored.Score = &copied
	stored.Status = event.StatusScored
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, eventID id.EventID, version int, status event.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	stored, ok := s.records[versionKey{eventID: eventID, version: version}]
	if !ok {
		return fmt.Errorf("set status %s v%d: %w", eventID, version, sentinel.ErrNotFound)
	}
	stored.Status = status
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, eventID id.EventID) (*StoredRecord, error) {
	versions, err := s.Versions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("record %s: %w", eventID, sentinel.ErrNotFound)
	}
	return versions[0], nil
}

func (s *MemoryStore) Versions(_ context.Context, eventID id.EventID) ([]*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	var out []*StoredRecord
	for key, stored := range s.records {
		if key.eventID == eventID {
			copied := *stored
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.Version > out[j].Record.Version
	})
	return out, nil
}
