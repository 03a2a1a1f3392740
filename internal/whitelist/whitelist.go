// Package whitelist owns the owner-controlled global payee whitelist.
// Unlike the per-policy lists, membership toggles here are strict
// transitions: enabling an enabled payee or disabling an absent one fails
// instead of silently doing nothing.
package whitelist

import (
	"context"
	"log"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/events"
	"github.com/subpay/backend/internal/metrics"
)

// Store is the membership set behind the global whitelist.
type Store interface {
	Add(ctx context.Context, payee core.Principal) error
	Remove(ctx context.Context, payee core.Principal) error
	Contains(ctx context.Context, payee core.Principal) (bool, error)
}

// Service enforces owner authorization and the strict-transition rule, and
// emits a change notification for every successful toggle.
type Service struct {
	owner   core.Principal
	store   Store
	bus     events.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewService creates the global whitelist service for the owning principal.
// bus and m may be nil.
func NewService(owner core.Principal, store Store, bus events.Emitter, m *metrics.Metrics) *Service {
	if bus == nil {
		bus = events.NopEmitter{}
	}
	return &Service{
		owner:   owner,
		store:   store,
		bus:     bus,
		metrics: m,
		logger:  log.New(log.Writer(), "[Whitelist] ", log.LstdFlags),
	}
}

// SetGlobalPayee toggles global membership for payee. Owner-only. The
// requested state must differ from the current state.
func (s *Service) SetGlobalPayee(ctx context.Context, caller, payee core.Principal, enabled bool) error {
	if caller != s.owner {
		return core.ErrUnauthorized
	}
	if payee.IsZero() {
		return core.ErrInvalidAddress
	}

	current, err := s.store.Contains(ctx, payee)
	if err != nil {
		return err
	}
	if enabled && current {
		return core.ErrAlreadyWhitelisted
	}
	if !enabled && !current {
		return core.ErrNotWhitelisted
	}

	if enabled {
		err = s.store.Add(ctx, payee)
	} else {
		err = s.store.Remove(ctx, payee)
	}
	if err != nil {
		return err
	}

	s.logger.Printf("global payee %s -> enabled=%t", payee, enabled)
	if s.metrics != nil {
		s.metrics.RecordWhitelistToggle(enabled)
	}
	s.bus.Emit(events.TypeGlobalWhitelistChanged, string(payee), map[string]interface{}{
		"payee":   string(payee),
		"enabled": enabled,
	})
	return nil
}

// IsGloballyWhitelisted reports global membership. Unauthenticated by
// design: any caller may probe the list.
func (s *Service) IsGloballyWhitelisted(ctx context.Context, payee core.Principal) (bool, error) {
	return s.store.Contains(ctx, payee)
}
