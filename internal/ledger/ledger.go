// Package ledger abstracts the external fungible-asset ledger the engine
// delegates value transfer to. The engine depends on allowance/approve/
// transferFrom semantics but never implements custody itself; collaborator
// failures surface to callers as TRANSFER_FAILED.
package ledger

import (
	"context"
	"math/big"

	"github.com/subpay/backend/internal/core"
)

// Ledger is the external collaborator interface. TransferFrom is executed
// with the engine's own ledger identity as spender, consuming an allowance
// the holder granted beforehand (see the allowance bridge).
type Ledger interface {
	Allowance(ctx context.Context, token, holder, spender core.Principal) (*big.Int, error)
	Approve(ctx context.Context, token, holder, spender core.Principal, amount *big.Int) error
	TransferFrom(ctx context.Context, token, holder, recipient core.Principal, amount *big.Int) error
}
