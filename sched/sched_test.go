package sched_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/scangate"
	"github.com/clinicware/scangate/alert"
	"github.com/clinicware/scangate/ledger"
	"github.com/clinicware/scangate/sched"
)

// Test 1: An account past its boundary is reset and its alerts archived
func TestCheckCycles_ResetsExpiredAccounts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	lg := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, lg.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  100,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:      time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, lg.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-b",
		MonthlyQuota:  100,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:      time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}))

	mgr := alert.NewManager()
	mgr.Evaluate(ctx, scangate.QuotaStatus{TenantID: "clinic-a", CurrentUsage: 100, MonthlyQuota: 100})

	s := sched.New(lg, lg,
		sched.WithAlerts(mgr),
		sched.WithClock(func() time.Time { return now }),
	)

	s.CheckCycles(ctx)

	// clinic-a rolled forward and its alert history was archived
	st, err := lg.Status(ctx, "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.CurrentUsage)
	assert.True(t, st.CycleEnd.After(now))
	assert.Empty(t, mgr.List(ctx, "clinic-a", alert.ListOptions{}))
	assert.Len(t, mgr.List(ctx, "clinic-a", alert.ListOptions{IncludeArchived: true}), 1)

	// clinic-b, mid-cycle, was untouched
	st, err = lg.Status(ctx, "clinic-b")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), st.CycleStart)
}

// Test 2: Running the check twice at the same boundary is a no-op
func TestCheckCycles_Idempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	lg := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, lg.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  100,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:      time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}))

	s := sched.New(lg, lg, sched.WithClock(func() time.Time { return now }))
	s.CheckCycles(ctx)

	first, err := lg.Status(ctx, "clinic-a")
	require.NoError(t, err)

	s.CheckCycles(ctx)
	second, err := lg.Status(ctx, "clinic-a")
	require.NoError(t, err)

	assert.Equal(t, first.CycleStart, second.CycleStart)
	assert.Equal(t, first.CycleEnd, second.CycleEnd)
}

// Test 3: Forecast sweep raises a burn-rate alert for a high-risk tenant
func TestEvaluateForecasts_RaisesRiskAlert(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	lg := ledger.NewMemory(ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, lg.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  100,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:      time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}))
	_, err := lg.CheckAndDebit(ctx, "clinic-a", 80)
	require.NoError(t, err)

	rec := scangate.NewMemoryUsageLog()
	for i := 1; i <= 4; i++ {
		require.NoError(t, rec.Record(ctx, scangate.UsageSample{
			TenantID: "clinic-a",
			Date:     time.Date(2026, time.March, 5+i, 0, 0, 0, 0, time.UTC),
			Units:    20,
		}))
	}

	mgr := alert.NewManager()
	s := sched.New(lg, lg,
		sched.WithRecorder(rec),
		sched.WithAlerts(mgr),
		sched.WithClock(func() time.Time { return now }),
	)

	s.EvaluateForecasts(ctx)

	alerts := mgr.List(ctx, "clinic-a", alert.ListOptions{})
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeBurnRateRisk, alerts[0].Type)
}
