// Package cache provides the in-memory result cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/clinicware/scangate"
)

// Memory is an in-memory ResultCache with fixed TTLs and first-writer-wins
// stores. A background sweeper reclaims expired entries; expired entries
// are also dropped lazily on lookup, so the sweeper is purely about memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[scangate.Fingerprint]*scangate.CacheEntry

	hits       int64
	misses     int64
	unitsSaved float64

	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

var (
	_ scangate.ResultCache   = (*Memory)(nil)
	_ scangate.StatsReporter = (*Memory)(nil)
)

// Option configures Memory.
type Option func(*Memory)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory result cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[scangate.Fingerprint]*scangate.CacheEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup returns the live entry for a fingerprint and increments its hit
// count. An expired entry is removed and reported as a miss.
func (m *Memory) Lookup(_ context.Context, fp scangate.Fingerprint) (scangate.CacheEntry, bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fp]
	if !ok {
		m.misses++
		return scangate.CacheEntry{}, false, nil
	}
	if e.Expired(now) {
		delete(m.entries, fp)
		m.misses++
		return scangate.CacheEntry{}, false, nil
	}

	e.HitCount++
	m.hits++
	m.unitsSaved += scangate.EstimateCost(e.Result.Tier)
	return *e, true, nil
}

// Store inserts the entry unless a live entry already exists for the
// fingerprint. Returns false when the entry lost the first-writer race.
func (m *Memory) Store(_ context.Context, e scangate.CacheEntry) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[e.Fingerprint]; ok && !existing.Expired(now) {
		return false, nil
	}
	stored := e
	m.entries[e.Fingerprint] = &stored
	return true, nil
}

// Evict removes the entry for a fingerprint, if present.
func (m *Memory) Evict(_ context.Context, fp scangate.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fp)
	return nil
}

// Stats reports cache effectiveness counters.
func (m *Memory) Stats(_ context.Context) (scangate.CacheStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scangate.CacheStats{
		Entries:    len(m.entries),
		Hits:       m.hits,
		Misses:     m.misses,
		UnitsSaved: m.unitsSaved,
	}, nil
}

// Sweep removes all expired entries and returns how many were reclaimed.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	for fp, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, fp)
			swept++
		}
	}
	return swept
}

// StartSweeper sweeps expired entries at the given interval until Stop.
func (m *Memory) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweeper. Safe to call more than once.
func (m *Memory) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}
