// Package mock provides a configurable in-memory inference provider for
// tests and examples.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/scangate"
)

// Provider is a mock inference provider for testing.
type Provider struct {
	name        string
	latency     time.Duration
	failAfter   int
	callCount   atomic.Int64
	staticErr   error
	analyzeFunc func(scangate.AnalysisRequest) (scangate.ScanResult, error)
}

var _ scangate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{name: "mock"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithAnalyzeFunc sets a custom response function.
func WithAnalyzeFunc(fn func(scangate.AnalysisRequest) (scangate.ScanResult, error)) Option {
	return func(p *Provider) { p.analyzeFunc = fn }
}

func (p *Provider) Name() string { return p.name }

// Calls returns how many times Analyze has been invoked.
func (p *Provider) Calls() int {
	return int(p.callCount.Load())
}

func (p *Provider) Analyze(ctx context.Context, req scangate.AnalysisRequest) (scangate.ScanResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return scangate.ScanResult{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return scangate.ScanResult{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return scangate.ScanResult{}, scangate.ErrInferenceFailed
	}

	if p.analyzeFunc != nil {
		return p.analyzeFunc(req)
	}

	return scangate.ScanResult{
		ID:        uuid.New().String(),
		ResultRef: "mock-analysis/" + req.InputDigest,
		Tier:      req.Tier,
		CreatedAt: time.Now().UTC(),
	}, nil
}
