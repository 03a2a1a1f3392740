package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/subpay/backend/internal/core"
)

// MemoryLedger is an in-process ledger honoring ERC-20 transfer/allowance
// semantics. Default wiring for dev and the collaborator double in tests.
type MemoryLedger struct {
	mu       sync.Mutex
	executor core.Principal // the engine's identity as spender in TransferFrom

	// token -> holder -> balance
	balances map[core.Principal]map[core.Principal]*big.Int
	// token -> holder -> spender -> allowance
	allowances map[core.Principal]map[core.Principal]map[core.Principal]*big.Int
}

// NewMemoryLedger creates an empty ledger whose TransferFrom calls spend
// allowances granted to executor.
func NewMemoryLedger(executor core.Principal) *MemoryLedger {
	return &MemoryLedger{
		executor:   executor,
		balances:   make(map[core.Principal]map[core.Principal]*big.Int),
		allowances: make(map[core.Principal]map[core.Principal]map[core.Principal]*big.Int),
	}
}

// Mint credits holder with amount of token (test/dev helper).
func (l *MemoryLedger) Mint(token, holder core.Principal, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.balance(token, holder)
	l.setBalance(token, holder, new(big.Int).Add(cur, amount))
}

// BalanceOf returns holder's balance of token.
func (l *MemoryLedger) BalanceOf(token, holder core.Principal) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder))
}

func (l *MemoryLedger) Allowance(ctx context.Context, token, holder, spender core.Principal) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(token, holder, spender)), nil
}

func (l *MemoryLedger) Approve(ctx context.Context, token, holder, spender core.Principal, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("approve: invalid amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(token, holder, spender, new(big.Int).Set(amount))
	return nil
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, token, holder, recipient core.Principal, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transferFrom: invalid amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowance(token, holder, l.executor)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom: allowance %s below amount %s", allowance, amount)
	}
	balance := l.balance(token, holder)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom: balance %s below amount %s", balance, amount)
	}

	l.setAllowance(token, holder, l.executor, new(big.Int).Sub(allowance, amount))
	l.setBalance(token, holder, new(big.Int).Sub(balance, amount))
	l.setBalance(token, recipient, new(big.Int).Add(l.balance(token, recipient), amount))
	return nil
}

func (l *MemoryLedger) balance(token, holder core.Principal) *big.Int {
	if holders := l.balances[token]; holders != nil {
		if b := holders[holder]; b != nil {
			return b
		}
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) setBalance(token, holder core.Principal, v *big.Int) {
	holders := l.balances[token]
	if holders == nil {
		holders = make(map[core.Principal]*big.Int)
		l.balances[token] = holders
	}
	holders[holder] = v
}

func (l *MemoryLedger) allowance(token, holder, spender core.Principal) *big.Int {
	if holders := l.allowances[token]; holders != nil {
		if spenders := holders[holder]; spenders != nil {
			if a := spenders[spender]; a != nil {
				return a
			}
		}
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) setAllowance(token, holder, spender core.Principal, v *big.Int) {
	holders := l.allowances[token]
	if holders == nil {
		holders = make(map[core.Principal]map[core.Principal]*big.Int)
		l.allowances[token] = holders
	}
	spenders := holders[holder]
	if spenders == nil {
		spenders = make(map[core.Principal]*big.Int)
		holders[holder] = spenders
	}
	spenders[spender] = v
}
