package scangate

// Features flags the AI capabilities included in a plan.
type Features struct {
	AdvancedAnalysis   bool `yaml:"advanced_analysis" json:"advanced_analysis"`
	ProposalGeneration bool `yaml:"proposal_generation" json:"proposal_generation"`
	LeadScoring        bool `yaml:"lead_scoring" json:"lead_scoring"`
	RealtimeSupport    bool `yaml:"realtime_support" json:"realtime_support"`
}

// Plan is a subscription tier a clinic can be provisioned on.
type Plan struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	MonthlyQuota float64  `yaml:"monthly_quota" json:"monthly_quota"`
	MonthlyPrice float64  `yaml:"monthly_price" json:"monthly_price"` // THB
	OverageRate  float64  `yaml:"overage_rate" json:"overage_rate"`   // THB per scan past quota
	Features     Features `yaml:"features" json:"features"`
	Recommended  bool     `yaml:"recommended" json:"recommended"`
}

// DefaultPlans is the built-in plan catalogue.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:           "basic",
			Name:         "Basic Plan",
			MonthlyQuota: 50,
			MonthlyPrice: 2500,
			OverageRate:  75,
			Features:     Features{ProposalGeneration: true},
		},
		{
			ID:           "professional",
			Name:         "Professional Plan",
			MonthlyQuota: 200,
			MonthlyPrice: 8500,
			OverageRate:  60,
			Features: Features{
				AdvancedAnalysis:   true,
				ProposalGeneration: true,
				LeadScoring:        true,
			},
			Recommended: true,
		},
		{
			ID:           "premium",
			Name:         "Premium Plan",
			MonthlyQuota: 500,
			MonthlyPrice: 18000,
			OverageRate:  45,
			Features: Features{
				AdvancedAnalysis:   true,
				ProposalGeneration: true,
				LeadScoring:        true,
				RealtimeSupport:    true,
			},
		},
		{
			ID:           "enterprise",
			Name:         "Enterprise Plan",
			MonthlyQuota: 1000,
			MonthlyPrice: 35000,
			OverageRate:  35,
			Features: Features{
				AdvancedAnalysis:   true,
				ProposalGeneration: true,
				LeadScoring:        true,
				RealtimeSupport:    true,
			},
		},
	}
}

// HasFeature reports whether the plan includes the named capability.
func (p Plan) HasFeature(name string) bool {
	switch name {
	case "advanced_analysis":
		return p.Features.AdvancedAnalysis
	case "proposal_generation":
		return p.Features.ProposalGeneration
	case "lead_scoring":
		return p.Features.LeadScoring
	case "realtime_support":
		return p.Features.RealtimeSupport
	}
	return false
}

// FindPlan returns the plan with the given id from the catalogue.
func FindPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// TopUpCost prices an additional block of scans at the plan's overage rate
// with the bulk discount applied.
func TopUpCost(p Plan, scans int) float64 {
	return float64(scans) * p.OverageRate * 0.8
}

// Recommendation suggests a plan change based on usage patterns.
type Recommendation struct {
	CurrentPlan      string  `json:"current_plan"`
	RecommendedPlan  string  `json:"recommended_plan,omitempty"`
	Reason           string  `json:"reason"`
	PotentialSavings float64 `json:"potential_savings,omitempty"`
}

// RecommendPlan suggests a tier change: down when utilization stays under
// 40% and a smaller plan still covers usage with headroom, up when
// utilization exceeds 80% or overage charges accrued.
func RecommendPlan(plans []Plan, status QuotaStatus, stats UsageStats, overageCharges float64) Recommendation {
	rec := Recommendation{CurrentPlan: status.PlanTier, Reason: "current plan fits usage"}

	current, ok := FindPlan(plans, status.PlanTier)
	if !ok {
		rec.Reason = "unknown plan"
		return rec
	}

	util := status.UtilizationPercent()

	if util < 40 {
		for _, p := range plans {
			if p.MonthlyQuota < current.MonthlyQuota && p.MonthlyQuota >= stats.TotalUnits*1.2 {
				rec.RecommendedPlan = p.ID
				rec.Reason = "utilization below 40%, a smaller plan covers current usage"
				rec.PotentialSavings = current.MonthlyPrice - p.MonthlyPrice
				return rec
			}
		}
	}

	if util > 80 || overageCharges > 0 {
		for _, p := range plans {
			if p.MonthlyQuota > current.MonthlyQuota {
				rec.RecommendedPlan = p.ID
				rec.Reason = "utilization above 80%, a larger plan avoids overage charges"
				rec.PotentialSavings = overageCharges
				return rec
			}
		}
	}

	return rec
}
