// Package erc20 implements the ledger collaborator against ERC-20 contracts
// on an EVM chain. Token principals are contract addresses in hex; holder
// signing keys are registered with the adapter by the platform's key
// custodian, which stays outside this engine.
package erc20

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/subpay/backend/internal/core"
)

// The allowance/approve/transferFrom subset of the ERC-20 ABI.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// Adapter speaks ERC-20 through a bind.ContractBackend. TransferFrom signs
// with the engine's executor key; Approve signs with the registered key of
// the holder being approved for.
type Adapter struct {
	backend  bind.ContractBackend
	parsed   abi.ABI
	executor *bind.TransactOpts

	mu      sync.Mutex
	signers map[core.Principal]*bind.TransactOpts
}

// Dial connects to an EVM RPC endpoint and returns a ready adapter.
func Dial(ctx context.Context, rpcURL string, executor *bind.TransactOpts) (*Adapter, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("erc20: rpc url not configured")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("erc20: dial %s: %w", rpcURL, err)
	}
	return NewAdapter(ethclient.NewClient(rpcClient), executor)
}

// NewAdapter wraps an existing backend (an ethclient or a simulated backend
// in tests).
func NewAdapter(backend bind.ContractBackend, executor *bind.TransactOpts) (*Adapter, error) {
	if executor == nil {
		return nil, errors.New("erc20: executor transact opts required")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("erc20: parse ABI: %w", err)
	}
	return &Adapter{
		backend:  backend,
		parsed:   parsed,
		executor: executor,
		signers:  make(map[core.Principal]*bind.TransactOpts),
	}, nil
}

// RegisterSigner installs the transact opts used to sign approve calls for
// holder.
func (a *Adapter) RegisterSigner(holder core.Principal, opts *bind.TransactOpts) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signers[holder] = opts
}

func toAddress(p core.Principal) (common.Address, error) {
	if !common.IsHexAddress(string(p)) {
		return common.Address{}, fmt.Errorf("erc20: %q is not a hex address", p)
	}
	return common.HexToAddress(string(p)), nil
}

func (a *Adapter) contract(token core.Principal) (*bind.BoundContract, error) {
	addr, err := toAddress(token)
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(addr, a.parsed, a.backend, a.backend, a.backend), nil
}

func (a *Adapter) Allowance(ctx context.Context, token, holder, spender core.Principal) (*big.Int, error) {
	c, err := a.contract(token)
	if err != nil {
		return nil, err
	}
	holderAddr, err := toAddress(holder)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := toAddress(spender)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := c.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", holderAddr, spenderAddr); err != nil {
		return nil, fmt.Errorf("erc20: allowance call: %w", err)
	}
	if len(out) != 1 {
		return nil, errors.New("erc20: unexpected allowance result")
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("erc20: allowance result is not uint256")
	}
	return value, nil
}

func (a *Adapter) Approve(ctx context.Context, token, holder, spender core.Principal, amount *big.Int) error {
	a.mu.Lock()
	opts := a.signers[holder]
	a.mu.Unlock()
	if opts == nil {
		return fmt.Errorf("erc20: no signer registered for holder %s", holder)
	}

	c, err := a.contract(token)
	if err != nil {
		return err
	}
	spenderAddr, err := toAddress(spender)
	if err != nil {
		return err
	}

	if _, err := a.transact(ctx, c, opts, "approve", spenderAddr, amount); err != nil {
		return fmt.Errorf("erc20: approve: %w", err)
	}
	return nil
}

func (a *Adapter) TransferFrom(ctx context.Context, token, holder, recipient core.Principal, amount *big.Int) error {
	c, err := a.contract(token)
	if err != nil {
		return err
	}
	holderAddr, err := toAddress(holder)
	if err != nil {
		return err
	}
	recipientAddr, err := toAddress(recipient)
	if err != nil {
		return err
	}

	if _, err := a.transact(ctx, c, a.executor, "transferFrom", holderAddr, recipientAddr, amount); err != nil {
		return fmt.Errorf("erc20: transferFrom: %w", err)
	}
	return nil
}

func (a *Adapter) transact(ctx context.Context, c *bind.BoundContract, opts *bind.TransactOpts, method string, params ...interface{}) (interface{}, error) {
	original := opts.Context
	opts.Context = ctx
	defer func() { opts.Context = original }()

	tx, err := c.Transact(opts, method, params...)
	if err != nil {
		return nil, err
	}

	// Simulated backends need an explicit commit for the tx to take effect.
	if sim, ok := a.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
	return tx, nil
}
