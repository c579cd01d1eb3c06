// Package postgres provides a PostgreSQL-backed quota Ledger.
//
// Account state lives in a single table; debits are guarded conditional
// UPDATEs so concurrent requests for one tenant serialize on the row. This
// makes it safe for multi-instance deployments and durable across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicware/scangate"
)

// Store is a PostgreSQL-backed Ledger.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ scangate.Ledger      = (*Store)(nil)
	_ scangate.Provisioner = (*Store)(nil)
	_ scangate.Lister      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "scangate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "scangate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string { return s.tablePrefix + "quota_accounts" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT PRIMARY KEY,
			plan_tier TEXT NOT NULL DEFAULT '',
			monthly_quota DOUBLE PRECISION NOT NULL,
			current_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
			overage_policy TEXT NOT NULL DEFAULT 'block',
			cycle_start TIMESTAMPTZ NOT NULL,
			cycle_end TIMESTAMPTZ NOT NULL
		)
	`, s.accountsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("scangate/postgres: ensure schema: %w", err)
	}
	return nil
}

// CheckAndDebit atomically debits cost units from a tenant's account.
// The update only lands when the block-policy guard holds, so two
// concurrent debits cannot jointly overshoot the quota.
func (s *Store) CheckAndDebit(ctx context.Context, tenantID string, units float64) (scangate.Debit, error) {
	var usage, quota float64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET current_usage = current_usage + $1
			WHERE tenant_id = $2
			  AND (overage_policy = 'bill' OR current_usage + $1 <= monthly_quota + 1e-9)
			RETURNING current_usage, monthly_quota`, s.accountsTable()),
		units, tenantID,
	).Scan(&usage, &quota)

	if errors.Is(err, pgx.ErrNoRows) {
		// Either the tenant is unknown or the block-policy guard denied
		// the debit; a plain read distinguishes the two.
		var remaining float64
		err = s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT GREATEST(monthly_quota - current_usage, 0) FROM %s WHERE tenant_id = $1`,
				s.accountsTable()),
			tenantID,
		).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return scangate.Debit{}, scangate.ErrTenantNotFound
		}
		if err != nil {
			return scangate.Debit{}, fmt.Errorf("scangate/postgres: debit: %w", err)
		}
		return scangate.Debit{Accepted: false, Remaining: remaining}, nil
	}
	if err != nil {
		return scangate.Debit{}, fmt.Errorf("scangate/postgres: debit: %w", err)
	}

	remaining := quota - usage
	if remaining < 0 {
		remaining = 0
	}
	return scangate.Debit{
		Accepted:    true,
		Remaining:   remaining,
		WillOverage: usage > quota+1e-9,
	}, nil
}

// Credit reverses a debit. Usage floors at zero.
func (s *Store) Credit(ctx context.Context, tenantID string, units float64) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET current_usage = GREATEST(current_usage - $1, 0) WHERE tenant_id = $2`,
			s.accountsTable()),
		units, tenantID,
	)
	if err != nil {
		return fmt.Errorf("scangate/postgres: credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scangate.ErrTenantNotFound
	}
	return nil
}

// Status returns a read-only projection of the account.
func (s *Store) Status(ctx context.Context, tenantID string) (scangate.QuotaStatus, error) {
	st := scangate.QuotaStatus{TenantID: tenantID}
	var policy string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT plan_tier, monthly_quota, current_usage, overage_policy, cycle_start, cycle_end
			FROM %s WHERE tenant_id = $1`, s.accountsTable()),
		tenantID,
	).Scan(&st.PlanTier, &st.MonthlyQuota, &st.CurrentUsage, &policy, &st.CycleStart, &st.CycleEnd)

	if errors.Is(err, pgx.ErrNoRows) {
		return scangate.QuotaStatus{}, scangate.ErrTenantNotFound
	}
	if err != nil {
		return scangate.QuotaStatus{}, fmt.Errorf("scangate/postgres: status: %w", err)
	}

	st.OveragePolicy = scangate.OveragePolicy(policy)
	st.Remaining = st.MonthlyQuota - st.CurrentUsage
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	return st, nil
}

// ResetCycle zeroes usage and advances the cycle bounds. Idempotent: the
// boundary guard makes a second run for the same boundary a no-op.
func (s *Store) ResetCycle(ctx context.Context, tenantID string, boundary time.Time) error {
	newStart, newEnd := scangate.NextCycle(boundary)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET current_usage = 0, cycle_start = $1, cycle_end = $2
			WHERE tenant_id = $3 AND cycle_start < $1`, s.accountsTable()),
		newStart, newEnd, tenantID,
	)
	if err != nil {
		return fmt.Errorf("scangate/postgres: reset cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied, or the tenant is unknown.
		var exists bool
		err = s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT true FROM %s WHERE tenant_id = $1`, s.accountsTable()),
			tenantID,
		).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return scangate.ErrTenantNotFound
		}
		if err != nil {
			return fmt.Errorf("scangate/postgres: reset cycle: %w", err)
		}
	}
	return nil
}

// SetAccount provisions or reconfigures a tenant account (upsert). Usage is
// preserved for an existing account.
func (s *Store) SetAccount(ctx context.Context, acct scangate.TenantAccount) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (tenant_id, plan_tier, monthly_quota, overage_policy, cycle_start, cycle_end)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id) DO UPDATE SET
				plan_tier = $2, monthly_quota = $3, overage_policy = $4,
				cycle_start = $5, cycle_end = $6`,
			s.accountsTable()),
		acct.TenantID, acct.PlanTier, acct.MonthlyQuota, string(acct.OveragePolicy),
		acct.CycleStart, acct.CycleEnd,
	)
	if err != nil {
		return fmt.Errorf("scangate/postgres: set account: %w", err)
	}
	return nil
}

// Accounts lists all account statuses.
func (s *Store) Accounts(ctx context.Context) ([]scangate.QuotaStatus, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT tenant_id, plan_tier, monthly_quota, current_usage, overage_policy, cycle_start, cycle_end
			FROM %s`, s.accountsTable()),
	)
	if err != nil {
		return nil, fmt.Errorf("scangate/postgres: accounts: %w", err)
	}
	defer rows.Close()

	var out []scangate.QuotaStatus
	for rows.Next() {
		var st scangate.QuotaStatus
		var policy string
		if err := rows.Scan(&st.TenantID, &st.PlanTier, &st.MonthlyQuota, &st.CurrentUsage,
			&policy, &st.CycleStart, &st.CycleEnd); err != nil {
			return nil, fmt.Errorf("scangate/postgres: accounts: %w", err)
		}
		st.OveragePolicy = scangate.OveragePolicy(policy)
		st.Remaining = st.MonthlyQuota - st.CurrentUsage
		if st.Remaining < 0 {
			st.Remaining = 0
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
