package policy

import (
	"fmt"
	"math"

	"github.com/subpay/backend/internal/core"
)

// UseBudget is the remaining-use counter of a policy, modeled as a tagged
// value so the "unlimited" marker can never be decremented into an invalid
// state. The boundary form is a single int64: -1 means unlimited, n >= 0
// means n uses remain.
type UseBudget struct {
	unlimited bool
	remaining uint32
}

// Unlimited is the boundary sentinel accepted by the registry.
const Unlimited int64 = -1

// UnlimitedBudget returns a budget with no use limit.
func UnlimitedBudget() UseBudget {
	return UseBudget{unlimited: true}
}

// FiniteBudget returns a budget with n uses remaining.
func FiniteBudget(n uint32) UseBudget {
	return UseBudget{remaining: n}
}

// BudgetFromInt64 converts the boundary form. Values below -1 are caller
// error and rejected here, at the edge.
func BudgetFromInt64(v int64) (UseBudget, error) {
	switch {
	case v == Unlimited:
		return UnlimitedBudget(), nil
	case v >= 0 && v <= math.MaxUint32:
		return FiniteBudget(uint32(v)), nil
	default:
		return UseBudget{}, fmt.Errorf("%w: payment count %d out of range", core.ErrInvalidArgument, v)
	}
}

// IsUnlimited reports whether the budget has no use limit.
func (b UseBudget) IsUnlimited() bool {
	return b.unlimited
}

// Remaining returns the remaining uses of a finite budget. Zero for an
// unlimited budget; check IsUnlimited first.
func (b UseBudget) Remaining() uint32 {
	return b.remaining
}

// Exhausted reports whether a further payment would overdraw the budget.
func (b UseBudget) Exhausted() bool {
	return !b.unlimited && b.remaining == 0
}

// Consume returns the budget after one successful payment. Unlimited is
// sticky: consuming it returns it unchanged. Consuming an exhausted finite
// budget is a logic error upstream and leaves it at zero.
func (b UseBudget) Consume() UseBudget {
	if b.unlimited || b.remaining == 0 {
		return b
	}
	return UseBudget{remaining: b.remaining - 1}
}

// Int64 renders the boundary form: -1 for unlimited, remaining uses
// otherwise.
func (b UseBudget) Int64() int64 {
	if b.unlimited {
		return Unlimited
	}
	return int64(b.remaining)
}

func (b UseBudget) String() string {
	if b.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d remaining", b.remaining)
}
