// Package ledger provides the in-memory quota Ledger.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/clinicware/scangate"
)

// epsilon absorbs float accumulation error in quota comparisons, so five
// flash scans (5 × 0.2) sum to exactly one unit.
const epsilon = 1e-9

// Memory is an in-memory Ledger. Each tenant account carries its own lock:
// concurrent debits for one tenant are linearizable, unrelated tenants never
// contend.
type Memory struct {
	mu       sync.RWMutex // guards the accounts map, not the accounts
	accounts map[string]*account
	now      func() time.Time
}

type account struct {
	mu            sync.Mutex
	planTier      string
	monthlyQuota  float64
	usage         float64
	overagePolicy scangate.OveragePolicy
	cycleStart    time.Time
	cycleEnd      time.Time
}

var (
	_ scangate.Ledger      = (*Memory)(nil)
	_ scangate.Provisioner = (*Memory)(nil)
	_ scangate.Lister      = (*Memory)(nil)
)

// Option configures Memory.
type Option func(*Memory)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory ledger.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		accounts: make(map[string]*account),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetAccount provisions or reconfigures a tenant account. Usage is
// preserved for an existing account.
func (m *Memory) SetAccount(_ context.Context, acct scangate.TenantAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[acct.TenantID]
	if !ok {
		a = &account{}
		m.accounts[acct.TenantID] = a
	}

	a.mu.Lock()
	a.planTier = acct.PlanTier
	a.monthlyQuota = acct.MonthlyQuota
	a.overagePolicy = acct.OveragePolicy
	a.cycleStart = acct.CycleStart
	a.cycleEnd = acct.CycleEnd
	a.mu.Unlock()
	return nil
}

// CheckAndDebit atomically debits cost units from a tenant's account.
func (m *Memory) CheckAndDebit(_ context.Context, tenantID string, units float64) (scangate.Debit, error) {
	a, ok := m.lookup(tenantID)
	if !ok {
		return scangate.Debit{}, scangate.ErrTenantNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybeRoll(m.now())

	next := a.usage + units
	if a.overagePolicy == scangate.OverageBlock && next > a.monthlyQuota+epsilon {
		return scangate.Debit{Accepted: false, Remaining: a.remaining()}, nil
	}

	a.usage = next
	return scangate.Debit{
		Accepted:    true,
		Remaining:   a.remaining(),
		WillOverage: next > a.monthlyQuota+epsilon,
	}, nil
}

// Credit reverses a debit. Usage floors at zero.
func (m *Memory) Credit(_ context.Context, tenantID string, units float64) error {
	a, ok := m.lookup(tenantID)
	if !ok {
		return scangate.ErrTenantNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.usage -= units
	if a.usage < 0 {
		a.usage = 0
	}
	return nil
}

// Status returns a read-only projection of the account.
func (m *Memory) Status(_ context.Context, tenantID string) (scangate.QuotaStatus, error) {
	a, ok := m.lookup(tenantID)
	if !ok {
		return scangate.QuotaStatus{}, scangate.ErrTenantNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(tenantID), nil
}

// ResetCycle zeroes usage and advances the cycle bounds. Idempotent: a
// boundary at or before the current cycle start has already been applied.
func (m *Memory) ResetCycle(_ context.Context, tenantID string, boundary time.Time) error {
	a, ok := m.lookup(tenantID)
	if !ok {
		return scangate.ErrTenantNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !boundary.After(a.cycleStart) {
		return nil
	}
	a.usage = 0
	a.cycleStart, a.cycleEnd = scangate.NextCycle(boundary)
	return nil
}

// Accounts lists all account statuses.
func (m *Memory) Accounts(_ context.Context) ([]scangate.QuotaStatus, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.accounts))
	accts := make([]*account, 0, len(m.accounts))
	for id, a := range m.accounts {
		ids = append(ids, id)
		accts = append(accts, a)
	}
	m.mu.RUnlock()

	out := make([]scangate.QuotaStatus, 0, len(accts))
	for i, a := range accts {
		a.mu.Lock()
		out = append(out, a.status(ids[i]))
		a.mu.Unlock()
	}
	return out, nil
}

func (m *Memory) lookup(tenantID string) (*account, bool) {
	m.mu.RLock()
	a, ok := m.accounts[tenantID]
	m.mu.RUnlock()
	return a, ok
}

// maybeRoll advances the cycle if the boundary passed between scheduler
// runs. Must be called with the account lock held.
func (a *account) maybeRoll(now time.Time) {
	if a.cycleEnd.IsZero() || now.Before(a.cycleEnd) {
		return
	}
	a.usage = 0
	a.cycleStart, a.cycleEnd = scangate.NextCycle(a.cycleEnd)
	// Catch up if more than one boundary elapsed.
	for !now.Before(a.cycleEnd) {
		a.cycleStart, a.cycleEnd = scangate.NextCycle(a.cycleEnd)
	}
}

func (a *account) remaining() float64 {
	r := a.monthlyQuota - a.usage
	if r < 0 {
		return 0
	}
	return r
}

func (a *account) status(tenantID string) scangate.QuotaStatus {
	return scangate.QuotaStatus{
		TenantID:      tenantID,
		PlanTier:      a.planTier,
		MonthlyQuota:  a.monthlyQuota,
		CurrentUsage:  a.usage,
		Remaining:     a.remaining(),
		OveragePolicy: a.overagePolicy,
		CycleStart:    a.cycleStart,
		CycleEnd:      a.cycleEnd,
	}
}
