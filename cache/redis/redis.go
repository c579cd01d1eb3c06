// Package redis provides a Redis-backed result cache.
//
// Entries are stored as JSON values with SET NX, which gives the
// first-writer-wins guarantee directly: a raced duplicate write is refused
// by Redis rather than overwriting the existing entry. TTL enforcement is
// delegated to Redis key expiry, so no sweeper is needed.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/clinicware/scangate"
)

// Store is a Redis-backed ResultCache.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ scangate.ResultCache = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "scangate:cache:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed ResultCache.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "scangate:cache:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entryKey(fp scangate.Fingerprint) string {
	return s.keyPrefix + string(fp)
}

func (s *Store) hitsKey(fp scangate.Fingerprint) string {
	return s.keyPrefix + "hits:" + string(fp)
}

// Lookup returns the live entry for a fingerprint and increments its hit
// count. Redis key expiry makes an expired entry a plain miss.
func (s *Store) Lookup(ctx context.Context, fp scangate.Fingerprint) (scangate.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.entryKey(fp)).Result()
	if err == goredis.Nil {
		return scangate.CacheEntry{}, false, nil
	}
	if err != nil {
		return scangate.CacheEntry{}, false, fmt.Errorf("scangate/rediscache: lookup: %w", err)
	}

	var e scangate.CacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return scangate.CacheEntry{}, false, fmt.Errorf("scangate/rediscache: decode entry: %w", err)
	}

	// The hit counter lives beside the entry and shares its lifetime.
	hits, err := s.client.Incr(ctx, s.hitsKey(fp)).Result()
	if err == nil {
		e.HitCount = hits
	}

	return e, true, nil
}

// Store inserts the entry with SET NX. Returns false when a concurrent
// writer already stored an entry for the fingerprint.
func (s *Store) Store(ctx context.Context, e scangate.CacheEntry) (bool, error) {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("scangate/rediscache: encode entry: %w", err)
	}

	stored, err := s.client.SetNX(ctx, s.entryKey(e.Fingerprint), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("scangate/rediscache: store: %w", err)
	}
	if stored {
		s.client.Set(ctx, s.hitsKey(e.Fingerprint), 0, ttl)
	}
	return stored, nil
}

// Evict removes the entry for a fingerprint, if present.
func (s *Store) Evict(ctx context.Context, fp scangate.Fingerprint) error {
	if err := s.client.Del(ctx, s.entryKey(fp), s.hitsKey(fp)).Err(); err != nil {
		return fmt.Errorf("scangate/rediscache: evict: %w", err)
	}
	return nil
}
