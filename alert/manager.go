// Package alert evaluates quota and forecast state against thresholds and
// emits de-duplicated, severity-tagged alerts per tenant.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/scangate"
)

// Type identifies what condition an alert reports.
type Type string

const (
	TypeQuotaWarning   Type = "quota_warning"
	TypeQuotaCritical  Type = "quota_critical"
	TypeQuotaExhausted Type = "quota_exhausted"
	TypeBurnRateRisk   Type = "burn_rate_risk"
)

// Severity tags how urgently an alert needs operator attention.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityUrgent   Severity = "urgent"
)

// Usage thresholds, as a percentage of monthly quota.
const (
	WarningThreshold   = 80
	CriticalThreshold  = 95
	ExhaustedThreshold = 100
)

// quotaRank orders the quota alert types so a higher threshold supersedes
// a lower one.
var quotaRank = map[Type]int{
	TypeQuotaWarning:   1,
	TypeQuotaCritical:  2,
	TypeQuotaExhausted: 3,
}

// Details carries the figures behind an alert.
type Details struct {
	CurrentUsage       float64  `json:"current_usage"`
	MonthlyQuota       float64  `json:"monthly_quota"`
	UtilizationPercent float64  `json:"utilization_percent"`
	DaysUntilDepletion *float64 `json:"days_until_depletion,omitempty"`
	RecommendedAction  string   `json:"recommended_action"`
}

// Alert is one threshold crossing for a tenant. Acknowledged and
// ActionTaken are operator-driven; Resolved marks an alert superseded by a
// higher threshold; Archived retires alerts from a prior cycle without
// deleting them, preserving audit history.
type Alert struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Type         Type      `json:"type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Details      Details   `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
	ActionTaken  bool      `json:"action_taken"`
	Resolved     bool      `json:"resolved"`
	Archived     bool      `json:"archived"`
}

// open reports whether the alert still counts toward the one-open-alert
// invariant for its (tenant, type) pair.
func (a *Alert) open() bool {
	return !a.Acknowledged && !a.Resolved && !a.Archived
}

// Notifier receives newly raised alerts for fan-out (email, chat, pager).
type Notifier func(Alert)

// LogNotifier returns a Notifier that logs raised alerts through slog.
func LogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return func(a Alert) {
		logger.Warn("alert raised",
			"tenant", a.TenantID,
			"type", string(a.Type),
			"severity", string(a.Severity),
			"utilization_percent", a.Details.UtilizationPercent,
		)
	}
}

// Manager holds alert state and runs the threshold rules. For a given
// (tenant, type) pair at most one open alert exists per cycle: re-crossing
// a threshold while its alert is open is a no-op, and crossing a higher
// threshold resolves the lower alert.
type Manager struct {
	mu     sync.Mutex
	alerts []*Alert
	notify Notifier
	now    func() time.Time
}

var _ scangate.AlertSink = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the fan-out hook for newly raised alerts.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notify = n }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty alert manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate runs the usage-threshold rules for a tenant after a ledger
// mutation.
func (m *Manager) Evaluate(_ context.Context, status scangate.QuotaStatus) {
	util := status.UtilizationPercent()

	var typ Type
	var sev Severity
	switch {
	case util >= ExhaustedThreshold:
		typ, sev = TypeQuotaExhausted, SeverityUrgent
	case util >= CriticalThreshold:
		typ, sev = TypeQuotaCritical, SeverityCritical
	case util >= WarningThreshold:
		typ, sev = TypeQuotaWarning, SeverityWarning
	default:
		return
	}

	m.raise(Alert{
		TenantID: status.TenantID,
		Type:     typ,
		Severity: sev,
		Message:  fmt.Sprintf("usage at %.1f%% of monthly quota", util),
		Details: Details{
			CurrentUsage:       status.CurrentUsage,
			MonthlyQuota:       status.MonthlyQuota,
			UtilizationPercent: util,
			RecommendedAction:  recommendedAction(typ),
		},
	})
}

// EvaluateForecast runs the burn-rate rule on a forecaster projection.
// Insufficient-data forecasts never fire.
func (m *Manager) EvaluateForecast(_ context.Context, tenantID string, fc scangate.Forecast) {
	if fc.Status != scangate.ForecastOK || fc.Risk != scangate.RiskHigh {
		return
	}

	msg := "projected to exhaust quota before cycle end"
	if fc.DaysUntilDepletion != nil {
		msg = fmt.Sprintf("projected to exhaust quota in %.1f days, before cycle end", *fc.DaysUntilDepletion)
	}

	m.raise(Alert{
		TenantID: tenantID,
		Type:     TypeBurnRateRisk,
		Severity: SeverityCritical,
		Message:  msg,
		Details: Details{
			DaysUntilDepletion: fc.DaysUntilDepletion,
			RecommendedAction:  "review scan volume or upgrade the plan before the quota runs out",
		},
	})
}

// raise applies the dedup and supersede rules before storing a new alert.
func (m *Manager) raise(a Alert) {
	m.mu.Lock()

	for _, existing := range m.alerts {
		if existing.TenantID != a.TenantID || !existing.open() {
			continue
		}
		if existing.Type == a.Type {
			m.mu.Unlock()
			return
		}
		// A higher quota threshold resolves the lower open alert; an open
		// higher one suppresses a lower re-crossing, as after a credit-back
		// dips usage just below the threshold it already fired at.
		if quotaRank[a.Type] > 0 && quotaRank[existing.Type] > 0 {
			if quotaRank[a.Type] > quotaRank[existing.Type] {
				existing.Resolved = true
			} else {
				m.mu.Unlock()
				return
			}
		}
	}

	a.ID = uuid.New().String()
	a.CreatedAt = m.now()
	stored := a
	m.alerts = append(m.alerts, &stored)

	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify(a)
	}
}

// Acknowledge marks an alert as seen by an operator.
func (m *Manager) Acknowledge(_ context.Context, id string) error {
	return m.mutate(id, func(a *Alert) { a.Acknowledged = true })
}

// MarkActionTaken records that an operator acted on the alert.
func (m *Manager) MarkActionTaken(_ context.Context, id string) error {
	return m.mutate(id, func(a *Alert) { a.ActionTaken = true })
}

func (m *Manager) mutate(id string, fn func(*Alert)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == id {
			fn(a)
			return nil
		}
	}
	return scangate.ErrAlertNotFound
}

// ArchiveCycle retires a tenant's alerts at cycle reset. Archived alerts
// stay listable for audit but no longer block new alerts of the same type.
func (m *Manager) ArchiveCycle(_ context.Context, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	archived := 0
	for _, a := range m.alerts {
		if a.TenantID == tenantID && !a.Archived {
			a.Archived = true
			archived++
		}
	}
	return archived
}

// ListOptions filters List output.
type ListOptions struct {
	Severity        Severity // zero value matches all
	IncludeArchived bool
	OpenOnly        bool
}

// List returns a tenant's alerts, newest first.
func (m *Manager) List(_ context.Context, tenantID string, opts ListOptions) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if a.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.OpenOnly && !a.open() {
			continue
		}
		if opts.Severity != "" && a.Severity != opts.Severity {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func recommendedAction(typ Type) string {
	switch typ {
	case TypeQuotaWarning:
		return "monitor usage; consider a top-up if the pace holds"
	case TypeQuotaCritical:
		return "top up scans or upgrade the plan to avoid interruption"
	case TypeQuotaExhausted:
		return "quota exhausted: top up now or wait for the cycle reset"
	default:
		return ""
	}
}
