package whitelist

import (
	"context"
	"sync"

	"github.com/subpay/backend/internal/core"
)

// MemoryStore is the in-process membership set used in dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[core.Principal]bool
}

// NewMemoryStore creates an empty set.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[core.Principal]bool)}
}

func (s *MemoryStore) Add(ctx context.Context, payee core.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[payee] = true
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, payee core.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, payee)
	return nil
}

func (s *MemoryStore) Contains(ctx context.Context, payee core.Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[payee], nil
}

// Size returns the current member count (metrics hook).
func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.members)), nil
}
