package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory append-only event store for demo/testing.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the event. Events are never mutated afterwards.
func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// Query walks the log newest-first applying the filter.
func (s *MemoryStore) Query(_ context.Context, f Filter, limit, offset int) ([]*Event, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !matches(e, f) {
			continue
		}
		matched = append(matched, e)
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	// Copy out so callers cannot mutate the log
	result := make([]*Event, len(matched))
	for i, e := range matched {
		cp := *e
		result[i] = &cp
	}
	return result, total, nil
}

func matches(e *Event, f Filter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if !f.Before.IsZero() && e.CreatedAt.After(f.Before) {
		return false
	}
	return true
}
