package scangate

import "time"

// Meter observes admission events for monitoring/logging.
type Meter interface {
	// OnAdmit is called when an admission decision is made.
	OnAdmit(event AdmitEvent)

	// OnResult is called when the inference provider returns a result.
	OnResult(event ResultEvent)
}

// AdmitOutcome classifies an admission decision.
type AdmitOutcome string

const (
	OutcomeCacheHit AdmitOutcome = "cache_hit"
	OutcomeAllowed  AdmitOutcome = "allowed"
	OutcomeDenied   AdmitOutcome = "denied"
)

// AdmitEvent describes an admission decision.
type AdmitEvent struct {
	TenantID    string
	Tier        ModelTier
	Outcome     AdmitOutcome
	Cost        float64
	Remaining   float64
	WillOverage bool
	CacheBypass bool // no fingerprint or force-rescan
}

// ResultEvent describes the outcome of an inference call.
type ResultEvent struct {
	TenantID string
	Tier     ModelTier
	Provider string
	Success  bool
	Duration time.Duration
	Refunded bool // cost credited back after a failure
	Error    error
}

// noopMeter is the default meter; it does nothing.
type noopMeter struct{}

func (noopMeter) OnAdmit(AdmitEvent)   {}
func (noopMeter) OnResult(ResultEvent) {}
