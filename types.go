package scangate

import "time"

// ModelTier selects which AI model analyzes a scan. Tiers differ in cost
// (scan-units) and analysis depth.
type ModelTier string

const (
	TierFlash ModelTier = "flash"
	TierPro   ModelTier = "pro"
)

// OveragePolicy controls what happens when a tenant's usage crosses its
// monthly quota.
type OveragePolicy string

const (
	// OverageBlock denies debits that would push usage past the quota.
	OverageBlock OveragePolicy = "block"
	// OverageBill accepts debits past the quota and flags them for billing.
	OverageBill OveragePolicy = "bill"
)

// ScanRequest is a single AI skin-scan request entering admission control.
// It is ephemeral: not persisted beyond the request lifecycle.
type ScanRequest struct {
	TenantID    string    `json:"tenant_id"`
	SubjectID   string    `json:"subject_id"`
	Tier        ModelTier `json:"model_tier"`
	InputDigest string    `json:"input_digest"`

	// ForceRescan bypasses the result cache for callers that need a fresh
	// analysis. The result is still stored for subsequent requests.
	ForceRescan bool `json:"force_rescan,omitempty"`
}

// ScanResult is the output of one inference call. The full analysis payload
// lives behind ResultRef; this engine never inspects it.
type ScanResult struct {
	ID        string    `json:"id"`
	ResultRef string    `json:"result_ref"`
	Tier      ModelTier `json:"model_tier"`
	CreatedAt time.Time `json:"created_at"`
}

// ScanDecision is the admission outcome returned to the caller.
type ScanDecision struct {
	Allowed         bool       `json:"allowed"`
	ServedFromCache bool       `json:"served_from_cache"`
	Result          ScanResult `json:"result"`
	Remaining       float64    `json:"remaining"`
	EstimatedCost   float64    `json:"estimated_cost"`
	WillOverage     bool       `json:"will_overage"`
}

// TenantAccount configures a tenant's quota account for provisioning.
type TenantAccount struct {
	TenantID      string        `yaml:"id" json:"tenant_id"`
	PlanTier      string        `yaml:"plan" json:"plan_tier"`
	MonthlyQuota  float64       `yaml:"monthly_quota" json:"monthly_quota"`
	OveragePolicy OveragePolicy `yaml:"overage_policy" json:"overage_policy"`
	CycleStart    time.Time     `yaml:"cycle_start" json:"cycle_start"`
	CycleEnd      time.Time     `yaml:"cycle_end" json:"cycle_end"`
}

// QuotaStatus is a read-only projection of a tenant's quota account.
type QuotaStatus struct {
	TenantID      string        `json:"tenant_id"`
	PlanTier      string        `json:"plan_tier"`
	MonthlyQuota  float64       `json:"monthly_quota"`
	CurrentUsage  float64       `json:"current_usage"`
	Remaining     float64       `json:"remaining"`
	OveragePolicy OveragePolicy `json:"overage_policy"`
	CycleStart    time.Time     `json:"cycle_start"`
	CycleEnd      time.Time     `json:"cycle_end"`
}

// UtilizationPercent returns current usage as a percentage of the monthly
// quota. Returns 0 for an unconfigured (zero-quota) account.
func (s QuotaStatus) UtilizationPercent() float64 {
	if s.MonthlyQuota <= 0 {
		return 0
	}
	return s.CurrentUsage / s.MonthlyQuota * 100
}

// Debit is the result of a Ledger.CheckAndDebit call.
type Debit struct {
	Accepted    bool    `json:"accepted"`
	Remaining   float64 `json:"remaining"`
	WillOverage bool    `json:"will_overage"`
}

// UsageSample is one day's accepted scan-unit consumption for a tenant.
// Samples are append-only: never updated, only summed.
type UsageSample struct {
	TenantID string    `json:"tenant_id"`
	Date     time.Time `json:"date"` // day granularity, UTC midnight
	Units    float64   `json:"units_consumed"`
}

// Day truncates t to UTC day granularity for UsageSample dates.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
