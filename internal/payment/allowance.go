package payment

import (
	"context"
	"errors"
	"log"
	"math/big"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/events"
	"github.com/subpay/backend/internal/ledger"
	"github.com/subpay/backend/internal/metrics"
	"github.com/subpay/backend/internal/policy"
)

// AllowanceBridge lets an agent manage the external-ledger allowance the
// engine spends when settling that agent's payments. Caller must be the
// policy's bound agent, and the token must be on the agent's token
// whitelist.
type AllowanceBridge struct {
	owner    core.Principal
	spender  core.Principal // the engine's ledger identity
	policies policy.Store
	ledger   ledger.Ledger
	bus      events.Emitter
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// NewAllowanceBridge wires the bridge. bus and m may be nil.
func NewAllowanceBridge(owner, spender core.Principal, policies policy.Store, l ledger.Ledger, bus events.Emitter, m *metrics.Metrics) *AllowanceBridge {
	if bus == nil {
		bus = events.NopEmitter{}
	}
	return &AllowanceBridge{
		owner:    owner,
		spender:  spender,
		policies: policies,
		ledger:   l,
		bus:      bus,
		metrics:  m,
		logger:   log.New(log.Writer(), "[Allowance] ", log.LstdFlags),
	}
}

func (b *AllowanceBridge) authorize(ctx context.Context, caller, token core.Principal) error {
	p, err := b.policies.Get(ctx, core.DerivePolicyKey(b.owner, caller))
	if errors.Is(err, core.ErrPolicyNotFound) {
		return core.ErrAgentMismatch
	}
	if err != nil {
		return err
	}
	if p.Agent != caller {
		return core.ErrAgentMismatch
	}
	if !p.Tokens[token] {
		return core.ErrTokenNotWhitelisted
	}
	return nil
}

// IncreaseAllowance raises the engine's allowance on token by amount and
// returns the new value.
func (b *AllowanceBridge) IncreaseAllowance(ctx context.Context, caller, token core.Principal, amount *big.Int) (*big.Int, error) {
	updated, err := b.adjust(ctx, caller, token, amount, false)
	if b.metrics != nil {
		b.metrics.RecordAllowance("increase", err == nil)
	}
	return updated, err
}

// DecreaseAllowance lowers the engine's allowance on token by amount and
// returns the new value. Fails UNDERFLOW_IN_DECREASE rather than wrapping
// when amount exceeds the current allowance.
func (b *AllowanceBridge) DecreaseAllowance(ctx context.Context, caller, token core.Principal, amount *big.Int) (*big.Int, error) {
	updated, err := b.adjust(ctx, caller, token, amount, true)
	if b.metrics != nil {
		b.metrics.RecordAllowance("decrease", err == nil)
	}
	return updated, err
}

func (b *AllowanceBridge) adjust(ctx context.Context, caller, token core.Principal, amount *big.Int, decrease bool) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, core.ErrInvalidArgument
	}
	if err := b.authorize(ctx, caller, token); err != nil {
		return nil, err
	}

	current, err := b.ledger.Allowance(ctx, token, caller, b.spender)
	if err != nil {
		return nil, err
	}

	updated := new(big.Int)
	if decrease {
		if amount.Cmp(current) > 0 {
			return nil, core.ErrUnderflowInDecrease
		}
		updated.Sub(current, amount)
	} else {
		updated.Add(current, amount)
	}

	if err := b.ledger.Approve(ctx, token, caller, b.spender, updated); err != nil {
		return nil, err
	}

	direction := "increase"
	if decrease {
		direction = "decrease"
	}
	b.logger.Printf("allowance %s agent=%s token=%s now=%s", direction, caller, token, updated)
	b.bus.Emit(events.TypeAllowanceChanged, string(caller), map[string]interface{}{
		"agent":     string(caller),
		"token":     string(token),
		"direction": direction,
		"allowance": updated.String(),
	})
	return updated, nil
}
