package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vigil/internal/event"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// MemoryStore mirrors the PostgresStore contract for unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	alerts  map[id.AlertID]*event.Alert
	byEvent map[id.EventID]struct{}

	failWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:  make(map[id.AlertID]*event.Alert),
		byEvent: make(map[id.EventID]struct{}),
	}
}

// FailWith makes all subsequent calls return err; nil restores normal
// behavior.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) Insert(_ context.Context, a event.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	if _, exists := s.byEvent[a.EventID]; exists {
		// Same semantics as ON CONFLICT DO NOTHING on event_id.
		return nil
	}
	copied := a
	s.alerts[a.ID] = &copied
	s.byEvent[a.EventID] = struct{}{}
	return nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, a event.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	stored, ok := s.alerts[a.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", a.ID, sentinel.ErrNotFound)
	}
	stored.Delivery = event.DeliveryDelivered
	return nil
}

func (s *MemoryStore) List(_ context.Context, q Query) ([]*event.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	var out []*event.Alert
	for _, a := range s.alerts {
		if q.Source != "" && a.Source != q.Source {
			continue
		}
		if !q.From.IsZero() && a.GeneratedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && a.GeneratedAt.After(q.To) {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})

	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many alerts are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
