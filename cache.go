package scangate

import (
	"context"
	"time"
)

// DefaultCacheTTL bounds result staleness. TTL is fixed from creation, not
// sliding: a popular entry still expires at its known maximum age.
const DefaultCacheTTL = 24 * time.Hour

// CacheEntry is a cached inference result keyed by fingerprint.
type CacheEntry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	TenantID    string      `json:"tenant_id"`
	Result      ScanResult  `json:"result"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	HitCount    int64       `json:"hit_count"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ResultCache stores recent inference outputs to avoid re-paying quota for
// near-duplicate scans. Writes for the same fingerprint are first-writer-wins:
// the values are semantically equivalent within the fingerprint window, so
// the loser's result is simply not cached.
type ResultCache interface {
	// Lookup returns the live entry for a fingerprint, if any, and
	// increments its hit count. An expired entry is a miss.
	Lookup(ctx context.Context, fp Fingerprint) (CacheEntry, bool, error)

	// Store inserts the entry unless a concurrent writer got there first.
	// Returns false when the entry lost the race and was discarded.
	Store(ctx context.Context, e CacheEntry) (bool, error)

	// Evict removes the entry for a fingerprint, if present.
	Evict(ctx context.Context, fp Fingerprint) error
}

// CacheStats summarizes cache effectiveness for monitoring.
type CacheStats struct {
	Entries    int     `json:"entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	UnitsSaved float64 `json:"units_saved"`
}

// HitRate returns hits as a fraction of all lookups, or 0 with no traffic.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsReporter is implemented by caches that track effectiveness counters.
type StatsReporter interface {
	Stats(ctx context.Context) (CacheStats, error)
}
