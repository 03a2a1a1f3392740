package core

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// Principal is the platform's opaque account identity. The engine assumes
// nothing about its structure beyond equality; callers arrive already
// authenticated by the platform layer.
type Principal string

// ZeroPrincipal is the null identifier. It is never a valid owner, agent,
// payee or token.
const ZeroPrincipal Principal = ""

// IsZero reports whether p is the null identifier.
func (p Principal) IsZero() bool {
	return p == ZeroPrincipal
}

// ListKind selects which per-agent whitelist an operation targets.
type ListKind string

const (
	ListPayee ListKind = "payee"
	ListToken ListKind = "token"
)

// Valid reports whether k names a known list.
func (k ListKind) Valid() bool {
	return k == ListPayee || k == ListToken
}

// PolicyKey addresses exactly one policy per (owner, agent) pair.
type PolicyKey string

// DerivePolicyKey builds the collision-resistant lookup key for a policy.
// The NUL separator keeps (a, bc) and (ab, c) from colliding.
func DerivePolicyKey(owner, agent Principal) PolicyKey {
	h := sha256.New()
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(agent))
	return PolicyKey(hex.EncodeToString(h.Sum(nil)))
}

// PolicyConfig is the unauthenticated scalar view of a policy. Whitelist
// contents are deliberately not part of this view.
type PolicyConfig struct {
	Agent                Principal `json:"agent"`
	LastPaymentTimestamp int64     `json:"last_payment_timestamp"`
	MaxPerPayment        *big.Int  `json:"max_per_payment"`
	PaymentCount         int64     `json:"payment_count"`
	PaymentInterval      uint64    `json:"payment_interval"`
}

// PaymentRequest is the agent-side payload for a payment attempt.
type PaymentRequest struct {
	Payee  Principal `json:"payee"`
	Token  Principal `json:"token"`
	Amount *big.Int  `json:"amount"`
}
