package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/scangate"
	"github.com/clinicware/scangate/ledger"
)

func provision(t *testing.T, m *ledger.Memory, quota float64, policy scangate.OveragePolicy, start, end time.Time) {
	t.Helper()
	require.NoError(t, m.SetAccount(context.Background(), scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  quota,
		OveragePolicy: policy,
		CycleStart:    start,
		CycleEnd:      end,
	}))
}

func month(y int, m time.Month) (time.Time, time.Time) {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Test 1: Debits accumulate and report remaining
func TestCheckAndDebit_Accumulates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
	require.NoError(t, err)
	assert.True(t, deb.Accepted)
	assert.Equal(t, 9.0, deb.Remaining)

	deb, err = m.CheckAndDebit(ctx, "clinic-a", 0.2)
	require.NoError(t, err)
	assert.True(t, deb.Accepted)
	assert.InDelta(t, 8.8, deb.Remaining, 1e-9)
}

// Test 2: Block policy fills the quota exactly, then denies without mutating
func TestCheckAndDebit_BlockBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 100, scangate.OverageBlock, start, end)

	_, err := m.CheckAndDebit(ctx, "clinic-a", 98)
	require.NoError(t, err)

	// 98 → 99 → 100 fills exactly
	for i := 0; i < 2; i++ {
		deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
		require.NoError(t, err)
		require.True(t, deb.Accepted)
	}

	deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
	require.NoError(t, err)
	assert.False(t, deb.Accepted)

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 100.0, status.CurrentUsage)
}

// Test 3: Fractional flash costs never leak epsilon error
func TestCheckAndDebit_FractionalExact(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 1, scangate.OverageBlock, start, end)

	for i := 0; i < 5; i++ {
		deb, err := m.CheckAndDebit(ctx, "clinic-a", 0.2)
		require.NoError(t, err)
		require.True(t, deb.Accepted, "debit %d", i+1)
	}

	deb, err := m.CheckAndDebit(ctx, "clinic-a", 0.2)
	require.NoError(t, err)
	assert.False(t, deb.Accepted)
}

// Test 4: Bill policy accepts past quota with the overage flag
func TestCheckAndDebit_BillOverage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 1, scangate.OverageBill, start, end)

	deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
	require.NoError(t, err)
	assert.True(t, deb.Accepted)
	assert.False(t, deb.WillOverage)

	deb, err = m.CheckAndDebit(ctx, "clinic-a", 1)
	require.NoError(t, err)
	assert.True(t, deb.Accepted)
	assert.True(t, deb.WillOverage)
	assert.Equal(t, 0.0, deb.Remaining)
}

// Test 5: Credit reverses usage and floors at zero
func TestCredit_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	_, err := m.CheckAndDebit(ctx, "clinic-a", 2)
	require.NoError(t, err)

	require.NoError(t, m.Credit(ctx, "clinic-a", 5))

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.CurrentUsage)
}

// Test 6: Concurrent debits never overshoot the quota
func TestCheckAndDebit_Concurrent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
			if err == nil && deb.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 10.0, status.CurrentUsage)
}

// Test 7: A passed boundary rolls the cycle lazily on the next debit
func TestCheckAndDebit_LazyCycleRoll(t *testing.T) {
	ctx := context.Background()
	start, end := month(2026, time.February)

	now := end.Add(time.Hour)
	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	_, err := m.CheckAndDebit(ctx, "clinic-a", 10)
	require.NoError(t, err)

	// past the boundary the quota is fresh
	deb, err := m.CheckAndDebit(ctx, "clinic-a", 1)
	require.NoError(t, err)
	assert.True(t, deb.Accepted)

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), status.CycleStart)
}

// Test 8: ResetCycle is idempotent at one boundary
func TestResetCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	_, err := m.CheckAndDebit(ctx, "clinic-a", 5)
	require.NoError(t, err)

	require.NoError(t, m.ResetCycle(ctx, "clinic-a", end))

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.CurrentUsage)
	assert.Equal(t, end, status.CycleStart)

	// replaying the same boundary changes nothing
	_, err = m.CheckAndDebit(ctx, "clinic-a", 3)
	require.NoError(t, err)
	require.NoError(t, m.ResetCycle(ctx, "clinic-a", end))

	status, err = m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 3.0, status.CurrentUsage)
}

// Test 9: Unknown tenants are rejected everywhere
func TestUnknownTenant(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemory()

	_, err := m.CheckAndDebit(ctx, "nope", 1)
	assert.ErrorIs(t, err, scangate.ErrTenantNotFound)
	assert.ErrorIs(t, m.Credit(ctx, "nope", 1), scangate.ErrTenantNotFound)
	_, err = m.Status(ctx, "nope")
	assert.ErrorIs(t, err, scangate.ErrTenantNotFound)
	assert.ErrorIs(t, m.ResetCycle(ctx, "nope", time.Now()), scangate.ErrTenantNotFound)
}

// Test 10: SetAccount preserves usage when reconfiguring
func TestSetAccount_PreservesUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	start, end := month(2026, time.March)

	m := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	provision(t, m, 10, scangate.OverageBlock, start, end)

	_, err := m.CheckAndDebit(ctx, "clinic-a", 4)
	require.NoError(t, err)

	// plan upgrade mid-cycle
	provision(t, m, 50, scangate.OverageBlock, start, end)

	status, err := m.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 4.0, status.CurrentUsage)
	assert.Equal(t, 50.0, status.MonthlyQuota)
}
