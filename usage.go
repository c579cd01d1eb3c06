package scangate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// UsageRecorder collects per-tenant daily usage samples for the forecaster
// and for usage statistics. One sample is appended per accepted,
// non-cache-hit request and aggregated by day.
type UsageRecorder interface {
	Record(ctx context.Context, sample UsageSample) error
	Samples(ctx context.Context, tenantID string, from, to time.Time) ([]UsageSample, error)
}

// UsageStats aggregates a tenant's samples over a window.
type UsageStats struct {
	TotalUnits   float64   `json:"total_units"`
	Scans        int       `json:"scans"`
	Days         int       `json:"days"`
	DailyAverage float64   `json:"daily_average"`
	PeakDay      time.Time `json:"peak_day"`
}

// MemoryUsageLog is an in-memory UsageRecorder.
type MemoryUsageLog struct {
	mu      sync.Mutex
	tenants map[string]map[time.Time]*dayUsage // tenant → day → totals
}

type dayUsage struct {
	units float64
	scans int
}

var _ UsageRecorder = (*MemoryUsageLog)(nil)

// NewMemoryUsageLog creates an empty in-memory usage log.
func NewMemoryUsageLog() *MemoryUsageLog {
	return &MemoryUsageLog{tenants: make(map[string]map[time.Time]*dayUsage)}
}

// Record appends a sample, folding it into the tenant's daily bucket.
func (l *MemoryUsageLog) Record(_ context.Context, sample UsageSample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	days, ok := l.tenants[sample.TenantID]
	if !ok {
		days = make(map[time.Time]*dayUsage)
		l.tenants[sample.TenantID] = days
	}

	day := Day(sample.Date)
	du, ok := days[day]
	if !ok {
		du = &dayUsage{}
		days[day] = du
	}
	du.units += sample.Units
	du.scans++
	return nil
}

// Samples returns the tenant's daily totals within [from, to], ordered by day.
func (l *MemoryUsageLog) Samples(_ context.Context, tenantID string, from, to time.Time) ([]UsageSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, to = Day(from), Day(to)

	var out []UsageSample
	for day, du := range l.tenants[tenantID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, UsageSample{TenantID: tenantID, Date: day, Units: du.units})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Stats computes aggregate usage for a tenant within [from, to].
func (l *MemoryUsageLog) Stats(_ context.Context, tenantID string, from, to time.Time) (UsageStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, to = Day(from), Day(to)

	var st UsageStats
	var peakUnits float64
	for day, du := range l.tenants[tenantID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		st.TotalUnits += du.units
		st.Scans += du.scans
		st.Days++
		if du.units > peakUnits {
			peakUnits = du.units
			st.PeakDay = day
		}
	}
	if st.Days > 0 {
		st.DailyAverage = st.TotalUnits / float64(st.Days)
	}
	return st, nil
}
