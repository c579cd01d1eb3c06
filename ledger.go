package scangate

import (
	"context"
	"time"
)

// Ledger manages per-tenant monthly quota accounts. The unit of atomicity is
// the single tenant account: concurrent debits for one tenant are
// linearizable, unrelated tenants never contend.
type Ledger interface {
	// CheckAndDebit atomically debits cost units from a tenant's account.
	// Under the block policy the sum of accepted debits never pushes usage
	// past the monthly quota; under the bill policy debits beyond quota are
	// accepted with WillOverage set.
	CheckAndDebit(ctx context.Context, tenantID string, units float64) (Debit, error)

	// Credit reverses a debit that did not produce a usable result
	// (inference failure, timeout, or caller cancellation). Usage never
	// drops below zero.
	Credit(ctx context.Context, tenantID string, units float64) error

	// Status returns a read-only projection of the account. It tolerates a
	// slightly stale read and does not take the debit lock.
	Status(ctx context.Context, tenantID string) (QuotaStatus, error)

	// ResetCycle zeroes usage and advances the cycle bounds at the given
	// boundary. Idempotent: running it twice for the same boundary is safe.
	ResetCycle(ctx context.Context, tenantID string, boundary time.Time) error
}

// Provisioner is implemented by ledgers that support account setup.
type Provisioner interface {
	SetAccount(ctx context.Context, acct TenantAccount) error
}

// Lister is implemented by ledgers that can enumerate accounts, which the
// scheduler uses to find cycle boundaries due for reset.
type Lister interface {
	Accounts(ctx context.Context) ([]QuotaStatus, error)
}

// NextCycle returns the cycle bounds following the given cycle end:
// the new cycle starts at the old boundary and runs one calendar month.
func NextCycle(end time.Time) (time.Time, time.Time) {
	return end, end.AddDate(0, 1, 0)
}
