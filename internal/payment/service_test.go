package payment

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/events"
	"github.com/subpay/backend/internal/ledger"
	"github.com/subpay/backend/internal/policy"
	"github.com/subpay/backend/internal/validator"
)

const (
	owner   = core.Principal("owner-1")
	spender = core.Principal("engine")
	agent   = core.Principal("agent-1")
	payee   = core.Principal("payee-1")
	token   = core.Principal("token-usdc")
)

type staticWhitelist map[core.Principal]bool

func (w staticWhitelist) IsGloballyWhitelisted(_ context.Context, p core.Principal) (bool, error) {
	return w[p], nil
}

type recordedEvent struct {
	Type string
	Data map[string]interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Emit(eventType, _ string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data})
}

func (r *eventRecorder) last(t *testing.T) recordedEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

type fixture struct {
	store   policy.Store
	ledger  *ledger.MemoryLedger
	service *Service
	bus     *eventRecorder
}

// newFixture seeds one funded agent with the given policy knobs and a fully
// whitelisted payee/token pair.
func newFixture(t *testing.T, budget policy.UseBudget, interval uint64, cap int64) *fixture {
	t.Helper()
	store := policy.NewMemoryStore()
	err := store.Put(context.Background(), core.DerivePolicyKey(owner, agent), &policy.SubAccountPolicy{
		Agent:           agent,
		MaxPerPayment:   big.NewInt(cap),
		Budget:          budget,
		PaymentInterval: interval,
		Payees:          map[core.Principal]bool{payee: true},
		Tokens:          map[core.Principal]bool{token: true},
	})
	require.NoError(t, err)

	l := ledger.NewMemoryLedger(spender)
	l.Mint(token, agent, big.NewInt(1_000_000))
	require.NoError(t, l.Approve(context.Background(), token, agent, spender, big.NewInt(1_000_000)))

	guards := validator.New(owner, store, staticWhitelist{payee: true})
	bus := &eventRecorder{}
	svc := NewService(owner, store, guards, l, bus, nil)
	svc.SetClock(func() int64 { return 1000 })
	return &fixture{store: store, ledger: l, service: svc, bus: bus}
}

func (f *fixture) policy(t *testing.T) *policy.SubAccountPolicy {
	t.Helper()
	p, err := f.store.Get(context.Background(), core.DerivePolicyKey(owner, agent))
	require.NoError(t, err)
	return p
}

func TestRequestPaymentSettles(t *testing.T) {
	f := newFixture(t, policy.FiniteBudget(5), 0, 100)

	err := f.service.RequestPayment(context.Background(), agent, payee, token, big.NewInt(40))
	require.NoError(t, err)

	assert.Equal(t, "40", f.ledger.BalanceOf(token, payee).String())
	assert.Equal(t, "999960", f.ledger.BalanceOf(token, agent).String())

	p := f.policy(t)
	assert.Equal(t, uint32(4), p.Budget.Remaining())
	assert.Equal(t, int64(1000), p.LastPaymentTimestamp)

	ev := f.bus.last(t)
	assert.Equal(t, events.TypePaymentSettled, ev.Type)
	assert.Equal(t, "40", ev.Data["amount"])
}

func TestRequestPaymentConsumesBudgetExactly(t *testing.T) {
	f := newFixture(t, policy.FiniteBudget(2), 0, 0)
	ctx := context.Background()

	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))
	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))

	err := f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1))
	assert.ErrorIs(t, err, core.ErrCountExhausted)

	ev := f.bus.last(t)
	assert.Equal(t, events.TypePaymentRejected, ev.Type)
	assert.Equal(t, "COUNT_EXHAUSTED", ev.Data["reason"])
}

func TestRequestPaymentUnlimitedBudgetNeverExhausts(t *testing.T) {
	f := newFixture(t, policy.UnlimitedBudget(), 0, 0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))
	}

	p := f.policy(t)
	assert.True(t, p.Budget.IsUnlimited())
	assert.Equal(t, policy.Unlimited, p.Budget.Int64())
}

func TestRequestPaymentCooldown(t *testing.T) {
	f := newFixture(t, policy.UnlimitedBudget(), 60, 0)
	ctx := context.Background()

	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))

	// Same clock tick, cooldown not yet elapsed.
	err := f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1))
	assert.ErrorIs(t, err, core.ErrIntervalNotElapsed)

	f.service.SetClock(func() int64 { return 1060 })
	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))
}

func TestRequestPaymentTransferFailureLeavesCounters(t *testing.T) {
	f := newFixture(t, policy.FiniteBudget(5), 0, 0)
	ctx := context.Background()

	// Revoke the engine's allowance so the transfer itself fails.
	require.NoError(t, f.ledger.Approve(ctx, token, agent, spender, big.NewInt(0)))

	err := f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1))
	assert.ErrorIs(t, err, core.ErrTransferFailed)

	p := f.policy(t)
	assert.Equal(t, uint32(5), p.Budget.Remaining())
	assert.Equal(t, int64(0), p.LastPaymentTimestamp)
	assert.Equal(t, "0", f.ledger.BalanceOf(token, payee).String())

	ev := f.bus.last(t)
	assert.Equal(t, events.TypePaymentRejected, ev.Type)
	assert.Equal(t, "TRANSFER_FAILED", ev.Data["reason"])
}

func TestRequestPaymentGuardFailureIsReadOnly(t *testing.T) {
	f := newFixture(t, policy.FiniteBudget(5), 0, 10)
	ctx := context.Background()

	err := f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(11))
	assert.ErrorIs(t, err, core.ErrAmountExceedsCap)

	p := f.policy(t)
	assert.Equal(t, uint32(5), p.Budget.Remaining())
	assert.Equal(t, "0", f.ledger.BalanceOf(token, payee).String())
}

func TestRequestPaymentUnknownCaller(t *testing.T) {
	f := newFixture(t, policy.UnlimitedBudget(), 0, 0)
	err := f.service.RequestPayment(context.Background(), core.Principal("stranger"), payee, token, big.NewInt(1))
	assert.ErrorIs(t, err, core.ErrAgentMismatch)
}

func TestRequestPaymentTimestampNeverRegresses(t *testing.T) {
	f := newFixture(t, policy.UnlimitedBudget(), 0, 0)
	ctx := context.Background()

	f.service.SetClock(func() int64 { return 2000 })
	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))

	// A clock running behind still settles (no cooldown here) but must not
	// rewind the recorded timestamp.
	f.service.SetClock(func() int64 { return 1500 })
	require.NoError(t, f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1)))

	assert.Equal(t, int64(2000), f.policy(t).LastPaymentTimestamp)
}

func TestRequestPaymentConcurrentSerializes(t *testing.T) {
	f := newFixture(t, policy.FiniteBudget(10), 0, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.service.RequestPayment(ctx, agent, payee, token, big.NewInt(1))
		}()
	}
	wg.Wait()

	p := f.policy(t)
	assert.Equal(t, uint32(0), p.Budget.Remaining())
	assert.Equal(t, "10", f.ledger.BalanceOf(token, payee).String())
}
