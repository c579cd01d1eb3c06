package scangate

// Scan-unit cost per model tier. Unrecognized tiers are billed at the pro
// rate.
const (
	CostFlash   = 0.2
	CostPro     = 1.0
	CostDefault = CostPro
)

// EstimateCost returns the scan-unit cost for a model tier.
func EstimateCost(tier ModelTier) float64 {
	switch tier {
	case TierFlash:
		return CostFlash
	case TierPro:
		return CostPro
	default:
		return CostDefault
	}
}
