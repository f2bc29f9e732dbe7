package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory identity store for demo/testing. A single
// mutex serializes all mutations, which makes every update an atomic
// read-modify-write per identity.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string // email -> id
}

// NewMemoryStore creates an in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(id.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrEmailTaken
	}

	cp := *id
	s.byID[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOut(id)
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyOut(id)
}

func (s *MemoryStore) RecordFailure(_ context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	ident.FailedAttempts++
	if ident.FailedAttempts >= threshold {
		until := at.Add(lockFor)
		ident.LockUntil = &until
	}
	ident.UpdatedAt = at

	cp := *ident
	return &cp, nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	ident.FailedAttempts = 0
	ident.LockUntil = nil
	last := at
	ident.LastLogin = &last
	ident.UpdatedAt = at
	return nil
}

func (s *MemoryStore) SetPendingSecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	ident.TOTPSecret = secret
	ident.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) EnableTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if ident.TOTPSecret == "" {
		return ErrNotFound
	}

	ident.TwoFactorEnabled = true
	ident.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DisableTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	ident.TOTPSecret = ""
	ident.TwoFactorEnabled = false
	ident.UpdatedAt = time.Now()
	return nil
}

// copyOut returns a copy so callers cannot mutate stored state (caller
// must hold at least a read lock).
func (s *MemoryStore) copyOut(id string) (*Identity, error) {
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}
