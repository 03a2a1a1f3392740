package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subpay/backend/internal/core"
	"github.com/subpay/backend/internal/ledger"
	"github.com/subpay/backend/internal/payment"
	"github.com/subpay/backend/internal/policy"
	"github.com/subpay/backend/internal/validator"
	"github.com/subpay/backend/internal/whitelist"
)

const (
	owner   = "owner-1"
	spender = core.Principal("engine")
	agent   = "agent-1"
	payee   = "payee-1"
	token   = "token-usdc"
)

type testEnv struct {
	router *mux.Router
	ledger *ledger.MemoryLedger
}

func newTestEnv() *testEnv {
	store := policy.NewMemoryStore()
	wl := whitelist.NewService(core.Principal(owner), whitelist.NewMemoryStore(), nil, nil)
	l := ledger.NewMemoryLedger(spender)
	guards := validator.New(core.Principal(owner), store, wl)
	payments := payment.NewService(core.Principal(owner), store, guards, l, nil, nil)
	bridge := payment.NewAllowanceBridge(core.Principal(owner), spender, store, l, nil, nil)
	registry := policy.NewRegistry(core.Principal(owner), store, nil)

	srv := NewServer(registry, wl, payments, bridge, nil)
	return &testEnv{router: srv.Router(), ledger: l}
}

func (e *testEnv) do(t *testing.T, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != "" {
		req.Header.Set("X-Principal-ID", principal)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createPolicy(t *testing.T) {
	t.Helper()
	rec := e.do(t, "POST", "/api/v1/policies", owner, map[string]interface{}{
		"agent":            agent,
		"initial_payee":    payee,
		"initial_token":    token,
		"max_per_payment":  "100",
		"payment_count":    5,
		"payment_interval": 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateAndGetPolicy(t *testing.T) {
	env := newTestEnv()
	env.createPolicy(t)

	rec := env.do(t, "GET", "/api/v1/policies/"+agent, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, agent, got["agent"])
	assert.Equal(t, "100", got["max_per_payment"])
	assert.Equal(t, float64(5), got["payment_count"])
}

func TestCreatePolicyUnauthorized(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, "POST", "/api/v1/policies", "intruder", map[string]interface{}{
		"agent":         agent,
		"initial_payee": payee,
		"initial_token": token,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestGetPolicyNotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, "GET", "/api/v1/policies/ghost", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AGENT_MISMATCH", errorCode(t, rec))
}

func TestUpdateCapRejectsBadAmount(t *testing.T) {
	env := newTestEnv()
	env.createPolicy(t)

	rec := env.do(t, "PUT", "/api/v1/policies/"+agent+"/max-per-payment", owner,
		map[string]string{"value": "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", errorCode(t, rec))
}

func TestGlobalWhitelistToggle(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, "PUT", "/api/v1/whitelist/global", owner,
		map[string]interface{}{"payee": payee, "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "PUT", "/api/v1/whitelist/global", owner,
		map[string]interface{}{"payee": payee, "enabled": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_WHITELISTED", errorCode(t, rec))

	rec = env.do(t, "GET", "/api/v1/whitelist/global/"+payee, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got["whitelisted"])
}

func TestAgentWhitelistRejectsBadKind(t *testing.T) {
	env := newTestEnv()
	env.createPolicy(t)

	rec := env.do(t, "PUT", "/api/v1/policies/"+agent+"/whitelist", owner,
		map[string]interface{}{"kind": "payees", "target": payee, "enabled": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentEndToEnd(t *testing.T) {
	env := newTestEnv()
	env.createPolicy(t)

	rec := env.do(t, "PUT", "/api/v1/whitelist/global", owner,
		map[string]interface{}{"payee": payee, "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	env.ledger.Mint(core.Principal(token), core.Principal(agent), big.NewInt(1000))
	require.NoError(t, env.ledger.Approve(context.Background(),
		core.Principal(token), core.Principal(agent), spender, big.NewInt(1000)))

	rec = env.do(t, "POST", "/api/v1/payments", agent,
		map[string]string{"payee": payee, "token": token, "amount": "40"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "40", env.ledger.BalanceOf(core.Principal(token), core.Principal(payee)).String())

	// Above the cap set at policy creation.
	rec = env.do(t, "POST", "/api/v1/payments", agent,
		map[string]string{"payee": payee, "token": token, "amount": "101"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "AMOUNT_EXCEEDS_CAP", errorCode(t, rec))
}

func TestAllowanceEndpoints(t *testing.T) {
	env := newTestEnv()
	env.createPolicy(t)

	rec := env.do(t, "POST", "/api/v1/allowance/increase", agent,
		map[string]string{"token": token, "amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "100", got["allowance"])

	rec = env.do(t, "POST", "/api/v1/allowance/decrease", agent,
		map[string]string{"token": token, "amount": "101"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UNDERFLOW_IN_DECREASE", errorCode(t, rec))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
