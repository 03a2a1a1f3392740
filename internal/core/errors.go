package core

import "errors"

// The engine's failure taxonomy. Every operation is all-or-nothing: any of
// these aborts the request with zero observable state change. Callers match
// with errors.Is; the uppercase prefix doubles as the wire code.
var (
	ErrUnauthorized                = errors.New("UNAUTHORIZED: caller is not the owner")
	ErrAgentMismatch               = errors.New("AGENT_MISMATCH: no policy bound to this agent")
	ErrInvalidAddress              = errors.New("INVALID_ADDRESS: null principal")
	ErrInvalidArgument             = errors.New("INVALID_ARGUMENT: malformed request value")
	ErrAlreadyWhitelisted          = errors.New("ALREADY_WHITELISTED: payee already enabled")
	ErrNotWhitelisted              = errors.New("NOT_WHITELISTED: payee already disabled")
	ErrAmountExceedsCap            = errors.New("AMOUNT_EXCEEDS_CAP: amount above per-payment cap")
	ErrIntervalNotElapsed          = errors.New("INTERVAL_NOT_ELAPSED: payment cooldown still active")
	ErrCountExhausted              = errors.New("COUNT_EXHAUSTED: no remaining payment uses")
	ErrPayeeNotWhitelisted         = errors.New("PAYEE_NOT_WHITELISTED: payee not on agent whitelist")
	ErrTokenNotWhitelisted         = errors.New("TOKEN_NOT_WHITELISTED: token not on agent whitelist")
	ErrPayeeNotGloballyWhitelisted = errors.New("PAYEE_NOT_GLOBALLY_WHITELISTED: payee not on global whitelist")
	ErrTransferFailed              = errors.New("TRANSFER_FAILED: external ledger rejected the transfer")
	ErrUnderflowInDecrease         = errors.New("UNDERFLOW_IN_DECREASE: decrease exceeds current allowance")

	// ErrPolicyNotFound is internal to the stores; the validator and
	// registry surface it as AGENT_MISMATCH.
	ErrPolicyNotFound = errors.New("POLICY_NOT_FOUND: no policy at key")
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrAgentMismatch, "AGENT_MISMATCH"},
	{ErrInvalidAddress, "INVALID_ADDRESS"},
	{ErrInvalidArgument, "INVALID_ARGUMENT"},
	{ErrAlreadyWhitelisted, "ALREADY_WHITELISTED"},
	{ErrNotWhitelisted, "NOT_WHITELISTED"},
	{ErrAmountExceedsCap, "AMOUNT_EXCEEDS_CAP"},
	{ErrIntervalNotElapsed, "INTERVAL_NOT_ELAPSED"},
	{ErrCountExhausted, "COUNT_EXHAUSTED"},
	{ErrPayeeNotWhitelisted, "PAYEE_NOT_WHITELISTED"},
	{ErrTokenNotWhitelisted, "TOKEN_NOT_WHITELISTED"},
	{ErrPayeeNotGloballyWhitelisted, "PAYEE_NOT_GLOBALLY_WHITELISTED"},
	{ErrTransferFailed, "TRANSFER_FAILED"},
	{ErrUnderflowInDecrease, "UNDERFLOW_IN_DECREASE"},
	{ErrPolicyNotFound, "POLICY_NOT_FOUND"},
}

// Code maps err onto its taxonomy code, or "UNKNOWN" for anything outside
// the taxonomy.
func Code(err error) string {
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "UNKNOWN"
}
