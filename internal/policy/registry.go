package policy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/metrics"
)

// Registry is the owner-facing API over the policy store. Every mutation
// requires caller == owner; the owner principal is fixed at construction
// (one engine instance serves one owning principal).
type Registry struct {
	owner   core.Principal
	store   Store
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewRegistry creates the policy registry for the given owning principal.
// m may be nil.
func NewRegistry(owner core.Principal, store Store, m *metrics.Metrics) *Registry {
	return &Registry{
		owner:   owner,
		store:   store,
		metrics: m,
		logger:  log.New(log.Writer(), "[Registry] ", log.LstdFlags),
	}
}

// Owner returns the owning principal this registry serves.
func (r *Registry) Owner() core.Principal {
	return r.owner
}

func (r *Registry) authorize(caller core.Principal) error {
	if caller != r.owner {
		return core.ErrUnauthorized
	}
	return nil
}

// CreatePolicy writes a fresh policy for (owner, agent), seeding exactly one
// payee and one token into the per-policy whitelists. Re-creating a policy
// for an existing agent overwrites it entirely: whitelist entries from a
// prior creation do NOT survive, so revoking and re-granting a delegation
// never inherits stale grants.
func (r *Registry) CreatePolicy(ctx context.Context, caller, agent, initialPayee, initialToken core.Principal,
	maxPerPayment *big.Int, paymentCount int64, paymentInterval uint64) error {

	if err := r.authorize(caller); err != nil {
		return err
	}
	if agent.IsZero() || initialPayee.IsZero() || initialToken.IsZero() {
		return core.ErrInvalidAddress
	}
	budget, err := BudgetFromInt64(paymentCount)
	if err != nil {
		return err
	}
	if maxPerPayment != nil && maxPerPayment.Sign() < 0 {
		return fmt.Errorf("%w: negative max per payment", core.ErrInvalidArgument)
	}

	max := big.NewInt(0)
	if maxPerPayment != nil {
		max = new(big.Int).Set(maxPerPayment)
	}
	p := &SubAccountPolicy{
		Agent:           agent,
		MaxPerPayment:   max,
		Budget:          budget,
		PaymentInterval: paymentInterval,
		Payees:          map[core.Principal]bool{initialPayee: true},
		Tokens:          map[core.Principal]bool{initialToken: true},
	}

	key := core.DerivePolicyKey(r.owner, agent)
	if err := r.store.Put(ctx, key, p); err != nil {
		return err
	}
	r.logger.Printf("policy created for agent=%s cap=%s budget=%s interval=%ds", agent, max, budget, paymentInterval)
	if r.metrics != nil {
		r.metrics.RecordPolicyCreated()
	}
	return nil
}

func (r *Registry) mutate(ctx context.Context, caller, agent core.Principal, fn func(*SubAccountPolicy) error) error {
	if err := r.authorize(caller); err != nil {
		return err
	}
	key := core.DerivePolicyKey(r.owner, agent)
	err := r.store.Mutate(ctx, key, fn)
	if errors.Is(err, core.ErrPolicyNotFound) {
		return core.ErrAgentMismatch
	}
	return err
}

// UpdateMaxPerPayment overwrites the per-payment cap. Zero lifts the cap.
func (r *Registry) UpdateMaxPerPayment(ctx context.Context, caller, agent core.Principal, value *big.Int) error {
	if value != nil && value.Sign() < 0 {
		return fmt.Errorf("%w: negative max per payment", core.ErrInvalidArgument)
	}
	return r.mutate(ctx, caller, agent, func(p *SubAccountPolicy) error {
		p.MaxPerPayment = big.NewInt(0)
		if value != nil {
			p.MaxPerPayment.Set(value)
		}
		return nil
	})
}

// UpdatePaymentCount overwrites the remaining-use budget (-1 = unlimited).
func (r *Registry) UpdatePaymentCount(ctx context.Context, caller, agent core.Principal, value int64) error {
	budget, err := BudgetFromInt64(value)
	if err != nil {
		return err
	}
	return r.mutate(ctx, caller, agent, func(p *SubAccountPolicy) error {
		p.Budget = budget
		return nil
	})
}

// UpdatePaymentInterval overwrites the cooldown. Zero lifts the cooldown.
func (r *Registry) UpdatePaymentInterval(ctx context.Context, caller, agent core.Principal, value uint64) error {
	return r.mutate(ctx, caller, agent, func(p *SubAccountPolicy) error {
		p.PaymentInterval = value
		return nil
	})
}

// SetAgentList sets one per-policy whitelist entry. Unlike the global payee
// whitelist this is an unconditional set: enabling an enabled entry or
// disabling an absent one succeeds without effect. The asymmetry is carried
// over from the original guard design on purpose.
func (r *Registry) SetAgentList(ctx context.Context, caller, agent core.Principal, kind core.ListKind, target core.Principal, enabled bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown list kind %q", core.ErrInvalidArgument, kind)
	}
	return r.mutate(ctx, caller, agent, func(p *SubAccountPolicy) error {
		list := p.Payees
		if kind == core.ListToken {
			list = p.Tokens
		}
		if enabled {
			list[target] = true
		} else {
			delete(list, target)
		}
		return nil
	})
}

// IsWhitelisted reports per-policy whitelist membership. Unauthenticated by
// design: membership is visible to any caller.
func (r *Registry) IsWhitelisted(ctx context.Context, agent core.Principal, kind core.ListKind, target core.Principal) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: unknown list kind %q", core.ErrInvalidArgument, kind)
	}
	p, err := r.store.Get(ctx, core.DerivePolicyKey(r.owner, agent))
	if errors.Is(err, core.ErrPolicyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if kind == core.ListToken {
		return p.Tokens[target], nil
	}
	return p.Payees[target], nil
}

// GetPolicyConfig returns the scalar policy fields. Unauthenticated; does
// not expose whitelist contents.
func (r *Registry) GetPolicyConfig(ctx context.Context, agent core.Principal) (core.PolicyConfig, error) {
	p, err := r.store.Get(ctx, core.DerivePolicyKey(r.owner, agent))
	if errors.Is(err, core.ErrPolicyNotFound) {
		return core.PolicyConfig{}, core.ErrAgentMismatch
	}
	if err != nil {
		return core.PolicyConfig{}, err
	}
	return p.Config(), nil
}
