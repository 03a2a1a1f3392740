// Package payment orchestrates delegated payments: authenticate the agent
// binding, run the guard chain, delegate the transfer to the external
// ledger, then commit the policy's usage counters.
package payment

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/events"
	"github.com/subpay/backend/internal/ledger"
	"github.com/subpay/backend/internal/metrics"
	"github.com/subpay/backend/internal/policy"
	"github.com/subpay/backend/internal/validator"
)

// Service handles agent payment requests for one owning principal.
//
// The transactional contract is "all guards pass and the transfer succeeds,
// or no state changes at all". It is enforced with a per-policy-key mutex
// held for the entire request, external transfer included: a reentrant call
// from a misbehaving collaborator serializes behind the lock and sees either
// the untouched pre-state or the fully committed post-state, never stale
// counters mid-flight.
type Service struct {
	owner    core.Principal
	policies policy.Store
	guards   *validator.Validator
	ledger   ledger.Ledger
	bus      events.Emitter
	metrics  *metrics.Metrics
	now      func() int64
	logger   *log.Logger

	mu    sync.Mutex
	locks map[core.PolicyKey]*sync.Mutex
}

// NewService wires the payment orchestrator. bus and m may be nil.
func NewService(owner core.Principal, policies policy.Store, guards *validator.Validator, l ledger.Ledger, bus events.Emitter, m *metrics.Metrics) *Service {
	if bus == nil {
		bus = events.NopEmitter{}
	}
	return &Service{
		owner:    owner,
		policies: policies,
		guards:   guards,
		ledger:   l,
		bus:      bus,
		metrics:  m,
		now:      func() int64 { return time.Now().Unix() },
		logger:   log.New(log.Writer(), "[Payment] ", log.LstdFlags),
		locks:    make(map[core.PolicyKey]*sync.Mutex),
	}
}

// SetClock overrides the timestamp source (tests).
func (s *Service) SetClock(now func() int64) {
	s.now = now
}

func (s *Service) lockFor(key core.PolicyKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// RequestPayment moves amount of token from the calling agent to payee,
// provided every guard admits it. On success the policy's use budget is
// consumed (unlimited budgets are sticky and never decremented) and its
// last-payment timestamp advances to now.
func (s *Service) RequestPayment(ctx context.Context, caller, payee, token core.Principal, amount *big.Int) error {
	key := core.DerivePolicyKey(s.owner, caller)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	if _, err := s.guards.Validate(ctx, caller, payee, token, amount, now); err != nil {
		s.reject(caller, payee, token, amount, err)
		return err
	}

	start := time.Now()
	if err := s.ledger.TransferFrom(ctx, token, caller, payee, amount); err != nil {
		wrapped := fmt.Errorf("%w: %v", core.ErrTransferFailed, err)
		s.reject(caller, payee, token, amount, wrapped)
		return wrapped
	}
	elapsed := time.Since(start).Seconds()

	// Counter commit. The transfer already happened, so a store failure
	// here is the one place the transactional contract can tear; it is
	// surfaced loudly rather than swallowed.
	err := s.policies.Mutate(ctx, key, func(p *policy.SubAccountPolicy) error {
		p.Budget = p.Budget.Consume()
		if now > p.LastPaymentTimestamp {
			p.LastPaymentTimestamp = now
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("ALERT: transfer settled but counter commit failed for agent=%s: %v", caller, err)
		return err
	}

	s.logger.Printf("payment settled agent=%s payee=%s token=%s amount=%s", caller, payee, token, amount)
	if s.metrics != nil {
		s.metrics.RecordAdmitted(string(caller), elapsed)
	}
	s.bus.Emit(events.TypePaymentSettled, string(caller), map[string]interface{}{
		"agent":  string(caller),
		"payee":  string(payee),
		"token":  string(token),
		"amount": amount.String(),
	})
	return nil
}

func (s *Service) reject(agent, payee, token core.Principal, amount *big.Int, cause error) {
	code := core.Code(cause)
	if s.metrics != nil {
		s.metrics.RecordRejected(string(agent), code)
	}
	amt := "0"
	if amount != nil {
		amt = amount.String()
	}
	s.bus.Emit(events.TypePaymentRejected, string(agent), map[string]interface{}{
		"agent":  string(agent),
		"payee":  string(payee),
		"token":  string(token),
		"amount": amt,
		"reason": code,
	})
}
