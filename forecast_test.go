package scangate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/scangate"
)

func dailySamples(start time.Time, units ...float64) []scangate.UsageSample {
	out := make([]scangate.UsageSample, len(units))
	for i, u := range units {
		out[i] = scangate.UsageSample{
			TenantID: "clinic-a",
			Date:     scangate.Day(start.AddDate(0, 0, i)),
			Units:    u,
		}
	}
	return out
}

// Test 1: Fewer than two samples yields insufficient data, never a number
func TestForecastDepletion_InsufficientData(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	status := scangate.QuotaStatus{Remaining: 50, MonthlyQuota: 100}

	for _, samples := range [][]scangate.UsageSample{
		nil,
		dailySamples(now.AddDate(0, 0, -1), 5),
	} {
		fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
		assert.Equal(t, scangate.ForecastInsufficient, fc.Status)
		assert.Nil(t, fc.DaysUntilDepletion)
		assert.Nil(t, fc.DepletionDate)
	}
}

// Test 2: Seven days at 5 units with 20 remaining depletes in 4 days
func TestForecastDepletion_SevenDayMean(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	samples := dailySamples(now.AddDate(0, 0, -7), 5, 5, 5, 5, 5, 5, 5)

	status := scangate.QuotaStatus{
		Remaining:  20,
		CycleStart: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:   time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}

	fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
	require.Equal(t, scangate.ForecastOK, fc.Status)
	assert.Equal(t, 5.0, fc.DailyBurnRate)
	require.NotNil(t, fc.DaysUntilDepletion)
	assert.InDelta(t, 4.0, *fc.DaysUntilDepletion, 1e-9)
	require.NotNil(t, fc.DepletionDate)
	assert.Equal(t, now.AddDate(0, 0, 4), fc.DepletionDate.UTC())
	assert.Equal(t, scangate.RiskHigh, fc.Risk)
}

// Test 3: Only the trailing window feeds the mean
func TestForecastDepletion_WindowTruncation(t *testing.T) {
	now := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	// ten days: two heavy early days must be ignored with a 7-day window
	samples := dailySamples(now.AddDate(0, 0, -10), 100, 100, 7, 7, 7, 7, 7, 7, 7, 7)

	status := scangate.QuotaStatus{
		Remaining: 70,
		CycleEnd:  time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}

	fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
	require.Equal(t, scangate.ForecastOK, fc.Status)
	assert.InDelta(t, 7.0, fc.DailyBurnRate, 1e-9)
}

// Test 4: Idle days inside the window count as zero usage
func TestForecastDepletion_IdleDaysDiluteRate(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	// two active days, seven apart: five idle days sit between them
	samples := []scangate.UsageSample{
		{TenantID: "clinic-a", Date: scangate.Day(now.AddDate(0, 0, -7)), Units: 7},
		{TenantID: "clinic-a", Date: scangate.Day(now.AddDate(0, 0, -1)), Units: 7},
	}

	status := scangate.QuotaStatus{
		Remaining: 20,
		CycleEnd:  time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}

	fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
	require.Equal(t, scangate.ForecastOK, fc.Status)
	assert.InDelta(t, 2.0, fc.DailyBurnRate, 1e-9)
}

// Test 5: The current partial day never feeds the mean
func TestForecastDepletion_SkipsPartialToday(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	samples := dailySamples(now.AddDate(0, 0, -2), 5, 5, 100)

	status := scangate.QuotaStatus{
		Remaining: 50,
		CycleEnd:  time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
	}

	fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
	require.Equal(t, scangate.ForecastOK, fc.Status)
	assert.InDelta(t, 5.0, fc.DailyBurnRate, 1e-9)
}

// Test 6: Zero burn rate projects no depletion and low risk
func TestForecastDepletion_ZeroBurnRate(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	samples := dailySamples(now.AddDate(0, 0, -3), 0, 0, 0)

	fc := scangate.ForecastDepletion(samples, scangate.QuotaStatus{Remaining: 50}, now, scangate.ForecastOptions{})
	assert.Equal(t, scangate.ForecastOK, fc.Status)
	assert.Nil(t, fc.DaysUntilDepletion)
	assert.Nil(t, fc.DepletionDate)
	assert.Equal(t, scangate.RiskLow, fc.Risk)
}

// Test 7: Risk tiers around the cycle end
func TestForecastDepletion_RiskTiers(t *testing.T) {
	now := time.Date(2026, time.March, 25, 0, 0, 0, 0, time.UTC)
	cycleStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	cycleEnd := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		remaining float64
		risk      scangate.RiskLevel
	}{
		// burn rate 2/day from the samples below
		{"depletes before cycle end", 10, scangate.RiskHigh},
		{"depletes just after cycle end", 20, scangate.RiskMedium},
		{"depletes well past the buffer", 60, scangate.RiskLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			samples := dailySamples(now.AddDate(0, 0, -4), 2, 2, 2, 2)
			status := scangate.QuotaStatus{
				Remaining:  tc.remaining,
				CycleStart: cycleStart,
				CycleEnd:   cycleEnd,
			}
			fc := scangate.ForecastDepletion(samples, status, now, scangate.ForecastOptions{})
			require.Equal(t, scangate.ForecastOK, fc.Status)
			assert.Equal(t, tc.risk, fc.Risk)
		})
	}
}
