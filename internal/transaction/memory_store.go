package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/testing. A single
// mutex makes Resolve an atomic compare-and-set.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Record
	// order preserves insertion so listings are stable for equal timestamps.
	order []string
}

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.byID[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*Record, int64, error) {
	return s.list(func(r *Record) bool { return r.OwnerID == ownerID }, limit, offset)
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Record, int64, error) {
	return s.list(func(r *Record) bool { return r.Status == status }, limit, offset)
}

func (s *MemoryStore) Resolve(_ context.Context, id string, status Status, approverID string, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrNotPending
	}

	rec.Status = status
	approver := approverID
	rec.ApproverID = &approver
	resolvedAt := at
	rec.ApprovedAt = &resolvedAt
	rec.UpdatedAt = at

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) list(match func(*Record) bool, limit, offset int) ([]*Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Record
	for _, id := range s.order {
		if rec := s.byID[id]; match(rec) {
			all = append(all, rec)
		}
	}

	// Newest first; insertion order breaks timestamp ties.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*Record{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]*Record, 0, end-offset)
	for _, rec := range all[offset:end] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, total, nil
}
