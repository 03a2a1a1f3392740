// Package validator holds the guard chain that decides whether a requested
// payment is admissible. Evaluation is pure: all seven guards are reads, and
// the order is fixed so the reported failure is deterministic when several
// guards would fail at once.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/policy"
)

// GlobalWhitelist is the read side of the owner's global payee list.
type GlobalWhitelist interface {
	IsGloballyWhitelisted(ctx context.Context, payee core.Principal) (bool, error)
}

// Validator evaluates payment admissibility against the policy store and the
// global whitelist. It never mutates either.
type Validator struct {
	owner    core.Principal
	policies policy.Store
	global   GlobalWhitelist
}

// New creates a validator for the given owning principal.
func New(owner core.Principal, policies policy.Store, global GlobalWhitelist) *Validator {
	return &Validator{owner: owner, policies: policies, global: global}
}

// Validate runs the guards in order and returns the resolved policy snapshot
// on success. Guard order:
//
//	1. policy exists and is bound to claimedAgent   -> AGENT_MISMATCH
//	2. amount within maxPerPayment (0 = no cap)     -> AMOUNT_EXCEEDS_CAP
//	3. cooldown elapsed (0 = no cooldown)           -> INTERVAL_NOT_ELAPSED
//	4. use budget not exhausted                     -> COUNT_EXHAUSTED
//	5. payee on the per-policy payee whitelist      -> PAYEE_NOT_WHITELISTED
//	6. token on the per-policy token whitelist      -> TOKEN_NOT_WHITELISTED
//	7. payee on the global whitelist                -> PAYEE_NOT_GLOBALLY_WHITELISTED
func (v *Validator) Validate(ctx context.Context, claimedAgent, payee, token core.Principal, amount *big.Int, now int64) (*policy.SubAccountPolicy, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: payment amount must be non-negative", core.ErrInvalidArgument)
	}

	// Guard 1: resolve the policy and check the agent binding.
	p, err := v.policies.Get(ctx, core.DerivePolicyKey(v.owner, claimedAgent))
	if errors.Is(err, core.ErrPolicyNotFound) {
		return nil, core.ErrAgentMismatch
	}
	if err != nil {
		return nil, err
	}
	if p.Agent != claimedAgent {
		return nil, core.ErrAgentMismatch
	}

	// Guard 2: per-payment cap.
	if p.CapsPayment() && amount.Cmp(p.MaxPerPayment) > 0 {
		return nil, core.ErrAmountExceedsCap
	}

	// Guard 3: cooldown. now == last + interval is admissible.
	if p.PaymentInterval != 0 && now < p.LastPaymentTimestamp+int64(p.PaymentInterval) {
		return nil, core.ErrIntervalNotElapsed
	}

	// Guard 4: remaining-use budget.
	if p.Budget.Exhausted() {
		return nil, core.ErrCountExhausted
	}

	// Guards 5-6: per-policy whitelists.
	if !p.Payees[payee] {
		return nil, core.ErrPayeeNotWhitelisted
	}
	if !p.Tokens[token] {
		return nil, core.ErrTokenNotWhitelisted
	}

	// Guard 7: global payee whitelist.
	ok, err := v.global.IsGloballyWhitelisted(ctx, payee)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrPayeeNotGloballyWhitelisted
	}

	return p, nil
}
