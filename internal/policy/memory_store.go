package policy

import (
	"context"
	"sync"

	"github.com/subpay/backend/internal/core"
)

// MemoryStore keeps policies in a mutex-guarded map. Default wiring for dev
// and tests; the postgres store covers durable deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[core.PolicyKey]*SubAccountPolicy
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[core.PolicyKey]*SubAccountPolicy),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key core.PolicyKey) (*SubAccountPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[key]
	if !ok {
		return nil, core.ErrPolicyNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, key core.PolicyKey, p *SubAccountPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[key] = p.Clone()
	return nil
}

func (s *MemoryStore) Mutate(ctx context.Context, key core.PolicyKey, fn func(*SubAccountPolicy) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[key]
	if !ok {
		return core.ErrPolicyNotFound
	}

	// fn works on a copy; the map is only updated when fn succeeds, so a
	// failed mutation leaves no partial write behind.
	draft := p.Clone()
	if err := fn(draft); err != nil {
		return err
	}
	s.policies[key] = draft
	return nil
}
