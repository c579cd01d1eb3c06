package scangate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/scangate"
)

func failure(provider string) scangate.ResultEvent {
	return scangate.ResultEvent{Provider: provider, Success: false, Duration: time.Millisecond}
}

// Test 1: An unknown provider is healthy
func TestHealthTracker_DefaultHealthy(t *testing.T) {
	h := scangate.NewHealthTracker()
	assert.Equal(t, scangate.HealthHealthy, h.State("gateway"))
}

// Test 2: Repeated failures trip the circuit
func TestHealthTracker_FailuresTripCircuit(t *testing.T) {
	h := scangate.NewHealthTracker()

	h.OnResult(failure("gateway"))
	h.OnResult(failure("gateway"))
	assert.Equal(t, scangate.HealthHealthy, h.State("gateway"))

	h.OnResult(failure("gateway"))
	assert.Equal(t, scangate.HealthUnhealthy, h.State("gateway"))
}

// Test 3: A success closes the circuit and clears the window
func TestHealthTracker_SuccessResets(t *testing.T) {
	h := scangate.NewHealthTracker()

	for i := 0; i < 3; i++ {
		h.OnResult(failure("gateway"))
	}
	assert.Equal(t, scangate.HealthUnhealthy, h.State("gateway"))

	h.OnResult(scangate.ResultEvent{Provider: "gateway", Success: true})
	assert.Equal(t, scangate.HealthHealthy, h.State("gateway"))
}

// Test 4: Providers are tracked independently
func TestHealthTracker_PerProvider(t *testing.T) {
	h := scangate.NewHealthTracker()

	for i := 0; i < 3; i++ {
		h.OnResult(failure("gateway"))
	}
	h.OnResult(scangate.ResultEvent{Provider: "mock", Success: true})

	states := h.States()
	assert.Equal(t, scangate.HealthUnhealthy, states["gateway"])
	assert.Equal(t, scangate.HealthHealthy, states["mock"])
}
