// Package policy owns the per-agent payment policy records: spending cap,
// cooldown interval, remaining-use budget and the per-policy payee/token
// whitelists. Stores hold durable state; the Registry is the owner-facing
// mutation API over them.
package policy

import (
	"context"
	"math/big"

	"github.com/subpay/backend/internal/core"
)

// SubAccountPolicy is the durable record governing one agent's delegated
// payments. A nil or zero MaxPerPayment means no per-payment cap; a zero
// PaymentInterval means no cooldown.
type SubAccountPolicy struct {
	Agent                core.Principal
	LastPaymentTimestamp int64 // unix seconds; 0 means never paid
	MaxPerPayment        *big.Int
	Budget               UseBudget
	PaymentInterval      uint64 // seconds

	Payees map[core.Principal]bool
	Tokens map[core.Principal]bool
}

// Clone returns a deep copy so store snapshots cannot alias live state.
func (p *SubAccountPolicy) Clone() *SubAccountPolicy {
	if p == nil {
		return nil
	}
	cp := *p
	if p.MaxPerPayment != nil {
		cp.MaxPerPayment = new(big.Int).Set(p.MaxPerPayment)
	}
	cp.Payees = make(map[core.Principal]bool, len(p.Payees))
	for k, v := range p.Payees {
		cp.Payees[k] = v
	}
	cp.Tokens = make(map[core.Principal]bool, len(p.Tokens))
	for k, v := range p.Tokens {
		cp.Tokens[k] = v
	}
	return &cp
}

// CapsPayment reports whether the per-payment cap constrains this policy.
func (p *SubAccountPolicy) CapsPayment() bool {
	return p.MaxPerPayment != nil && p.MaxPerPayment.Sign() > 0
}

// Config renders the unauthenticated scalar view.
func (p *SubAccountPolicy) Config() core.PolicyConfig {
	max := big.NewInt(0)
	if p.MaxPerPayment != nil {
		max = new(big.Int).Set(p.MaxPerPayment)
	}
	return core.PolicyConfig{
		Agent:                p.Agent,
		LastPaymentTimestamp: p.LastPaymentTimestamp,
		MaxPerPayment:        max,
		PaymentCount:         p.Budget.Int64(),
		PaymentInterval:      p.PaymentInterval,
	}
}

// Store is the durable home of policy records. Get returns a snapshot;
// Mutate applies fn atomically with respect to the key (fn sees the current
// record and may rewrite it; any error from fn aborts the write).
type Store interface {
	Get(ctx context.Context, key core.PolicyKey) (*SubAccountPolicy, error)
	Put(ctx context.Context, key core.PolicyKey, p *SubAccountPolicy) error
	Mutate(ctx context.Context, key core.PolicyKey, fn func(*SubAccountPolicy) error) error
}
