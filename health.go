package scangate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState classifies an inference provider's recent behavior.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthHalfOpen  HealthState = "half_open"
)

// HealthTracker tracks per-provider health using a circuit breaker pattern:
// repeated inference failures inside a sliding window mark the provider
// unhealthy, and after a cool-off it transitions to half-open until the next
// success or failure decides. It observes admission events, so it can be
// fanned in alongside any other Meter.
type HealthTracker struct {
	mu        sync.RWMutex
	providers map[string]*providerHealth
	now       func() time.Time
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time   // when state transitioned to unhealthy
}

var _ Meter = (*HealthTracker)(nil)

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
		now:       time.Now,
	}
}

// State returns the current health state for a provider.
func (h *HealthTracker) State(provider string) HealthState {
	h.mu.RLock()
	ph, ok := h.providers[provider]
	h.mu.RUnlock()

	if !ok {
		return HealthHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// After the cool-off an unhealthy provider becomes half-open.
	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}

	return ph.state
}

// States returns a snapshot of all tracked providers.
func (h *HealthTracker) States() map[string]HealthState {
	h.mu.RLock()
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	h.mu.RUnlock()

	out := make(map[string]HealthState, len(names))
	for _, name := range names {
		out[name] = h.State(name)
	}
	return out
}

// OnAdmit is part of the Meter interface. Admission outcomes say nothing
// about provider health.
func (h *HealthTracker) OnAdmit(AdmitEvent) {}

// OnResult feeds inference outcomes into the circuit.
func (h *HealthTracker) OnResult(e ResultEvent) {
	if e.Provider == "" {
		return
	}
	if e.Success {
		h.recordSuccess(e.Provider)
	} else {
		h.recordFailure(e.Provider)
	}
}

func (h *HealthTracker) recordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.state = HealthHealthy
	ph.failures = ph.failures[:0]
}

func (h *HealthTracker) recordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	if ph.state == HealthUnhealthy {
		return
	}

	now := h.now()

	// Prune old failures outside the window.
	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
