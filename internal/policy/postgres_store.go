package policy

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/subpay/backend/internal/core"
)

// PostgresStore persists policies in Postgres (driver: lib/pq, registered by
// the caller). Amounts are stored as decimal strings so uint256-scale values
// survive the round trip.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the policy tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sub_account_policies (
    policy_key       TEXT PRIMARY KEY,
    agent            TEXT NOT NULL,
    last_payment_ts  BIGINT NOT NULL DEFAULT 0,
    max_per_payment  TEXT NOT NULL DEFAULT '0',
    payment_count    BIGINT NOT NULL,
    payment_interval BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS policy_whitelists (
    policy_key TEXT NOT NULL REFERENCES sub_account_policies (policy_key) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    principal  TEXT NOT NULL,
    PRIMARY KEY (policy_key, kind, principal)
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure policy schema: %w", err)
	}
	return nil
}

type policyQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanPolicy(ctx context.Context, q policyQuerier, key core.PolicyKey, forUpdate bool) (*SubAccountPolicy, error) {
	query := `SELECT agent, last_payment_ts, max_per_payment, payment_count, payment_interval
	          FROM sub_account_policies WHERE policy_key = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		agent    string
		lastTS   int64
		maxRaw   string
		count    int64
		interval int64
	)
	err := q.QueryRowContext(ctx, query, string(key)).Scan(&agent, &lastTS, &maxRaw, &count, &interval)
	if err == sql.ErrNoRows {
		return nil, core.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", key, err)
	}

	max, ok := new(big.Int).SetString(maxRaw, 10)
	if !ok {
		return nil, fmt.Errorf("policy %s: corrupt max_per_payment %q", key, maxRaw)
	}
	budget, err := BudgetFromInt64(count)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", key, err)
	}

	p := &SubAccountPolicy{
		Agent:                core.Principal(agent),
		LastPaymentTimestamp: lastTS,
		MaxPerPayment:        max,
		Budget:               budget,
		PaymentInterval:      uint64(interval),
		Payees:               make(map[core.Principal]bool),
		Tokens:               make(map[core.Principal]bool),
	}

	rows, err := q.QueryContext(ctx,
		`SELECT kind, principal FROM policy_whitelists WHERE policy_key = $1`, string(key))
	if err != nil {
		return nil, fmt.Errorf("load policy whitelists %s: %w", key, err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, principal string
		if err := rows.Scan(&kind, &principal); err != nil {
			return nil, fmt.Errorf("scan policy whitelist row: %w", err)
		}
		switch core.ListKind(kind) {
		case core.ListPayee:
			p.Payees[core.Principal(principal)] = true
		case core.ListToken:
			p.Tokens[core.Principal(principal)] = true
		}
	}
	return p, rows.Err()
}

type policyExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func writePolicy(ctx context.Context, e policyExecer, key core.PolicyKey, p *SubAccountPolicy) error {
	max := "0"
	if p.MaxPerPayment != nil {
		max = p.MaxPerPayment.String()
	}
	_, err := e.ExecContext(ctx, `
INSERT INTO sub_account_policies (policy_key, agent, last_payment_ts, max_per_payment, payment_count, payment_interval)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (policy_key) DO UPDATE SET
    agent = EXCLUDED.agent,
    last_payment_ts = EXCLUDED.last_payment_ts,
    max_per_payment = EXCLUDED.max_per_payment,
    payment_count = EXCLUDED.payment_count,
    payment_interval = EXCLUDED.payment_interval`,
		string(key), string(p.Agent), p.LastPaymentTimestamp, max, p.Budget.Int64(), int64(p.PaymentInterval))
	if err != nil {
		return fmt.Errorf("write policy %s: %w", key, err)
	}

	if _, err := e.ExecContext(ctx,
		`DELETE FROM policy_whitelists WHERE policy_key = $1`, string(key)); err != nil {
		return fmt.Errorf("reset policy whitelists %s: %w", key, err)
	}
	for payee := range p.Payees {
		if _, err := e.ExecContext(ctx,
			`INSERT INTO policy_whitelists (policy_key, kind, principal) VALUES ($1, $2, $3)`,
			string(key), string(core.ListPayee), string(payee)); err != nil {
			return fmt.Errorf("write payee whitelist %s: %w", key, err)
		}
	}
	for token := range p.Tokens {
		if _, err := e.ExecContext(ctx,
			`INSERT INTO policy_whitelists (policy_key, kind, principal) VALUES ($1, $2, $3)`,
			string(key), string(core.ListToken), string(token)); err != nil {
			return fmt.Errorf("write token whitelist %s: %w", key, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key core.PolicyKey) (*SubAccountPolicy, error) {
	return scanPolicy(ctx, s.db, key, false)
}

func (s *PostgresStore) Put(ctx context.Context, key core.PolicyKey, p *SubAccountPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put policy: %w", err)
	}
	defer tx.Rollback()

	if err := writePolicy(ctx, tx, key, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Mutate loads the row under FOR UPDATE, applies fn and writes the result
// back in the same transaction, so concurrent mutations of one key
// serialize and a failing fn leaves the row untouched.
func (s *PostgresStore) Mutate(ctx context.Context, key core.PolicyKey, fn func(*SubAccountPolicy) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutate policy: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPolicy(ctx, tx, key, true)
	if err != nil {
		return err
	}
	if err := fn(p); err != nil {
		return err
	}
	if err := writePolicy(ctx, tx, key, p); err != nil {
		return err
	}
	return tx.Commit()
}
