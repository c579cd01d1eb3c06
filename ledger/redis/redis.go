// Package redis provides a Redis-backed quota Ledger.
//
// Account state is stored in Redis hashes with atomic Lua scripts for
// debit/credit/reset. This makes it safe for multi-instance deployments.
// Scan-units are stored as fixed-point milli-units so fractional tier costs
// (0.2 for flash) accumulate exactly.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/clinicware/scangate"
)

// Store is a Redis-backed Ledger.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ scangate.Ledger      = (*Store)(nil)
	_ scangate.Provisioner = (*Store)(nil)
	_ scangate.Lister      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "scangate:ledger:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Ledger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "scangate:ledger:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(tenantID string) string {
	return s.keyPrefix + tenantID
}

func toMilli(units float64) int64 { return int64(math.Round(units * 1000)) }
func fromMilli(m int64) float64   { return float64(m) / 1000 }

// debitScript atomically debits an account. A passed cycle boundary is
// handled by maybeRoll before this script runs.
// KEYS[1] = account hash key
// ARGV[1] = units (milli)
//
// Returns {code, remaining_milli, will_overage}:
//
//	 1 = debited
//	 0 = denied (block policy)
//	-2 = account not found
var debitScript = goredis.NewScript(`
local key = KEYS[1]
local units = tonumber(ARGV[1])

local quota = redis.call("HGET", key, "quota_milli")
if not quota then
    return {-2, 0, 0}
end
quota = tonumber(quota)

local usage = tonumber(redis.call("HGET", key, "usage_milli") or "0")
local policy = redis.call("HGET", key, "policy") or "block"
local next = usage + units
if policy == "block" and next > quota then
    local rem = quota - usage
    if rem < 0 then rem = 0 end
    return {0, rem, 0}
end

redis.call("HSET", key, "usage_milli", tostring(next))

local rem = quota - next
if rem < 0 then rem = 0 end
local over = 0
if next > quota then over = 1 end
return {1, rem, over}
`)

// creditScript reverses a debit, flooring usage at zero.
// KEYS[1] = account hash key
// ARGV[1] = units (milli)
var creditScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return -2
end
local usage = tonumber(redis.call("HGET", key, "usage_milli") or "0")
usage = usage - tonumber(ARGV[1])
if usage < 0 then usage = 0 end
redis.call("HSET", key, "usage_milli", tostring(usage))
return 1
`)

// rollScript applies a lazy cycle roll computed by maybeRoll. The roll only
// lands when the stored cycle end still matches the one the caller read, so
// concurrent rollers cannot reset the same cycle twice.
// KEYS[1] = account hash key
// ARGV[1] = expected current cycle end (unix seconds)
// ARGV[2] = new cycle start (unix seconds)
// ARGV[3] = new cycle end (unix seconds)
var rollScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return 0
end
local stored = tonumber(redis.call("HGET", key, "cycle_end") or "0")
if stored ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("HSET", key, "usage_milli", "0", "cycle_start", ARGV[2], "cycle_end", ARGV[3])
return 1
`)

// resetScript idempotently applies a cycle reset: a boundary at or before
// the stored cycle start has already been applied.
// KEYS[1] = account hash key
// ARGV[1] = boundary (unix seconds)
// ARGV[2] = new cycle end (unix seconds)
var resetScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return -2
end
local start = tonumber(redis.call("HGET", key, "cycle_start") or "0")
if tonumber(ARGV[1]) <= start then
    return 0
end
redis.call("HSET", key, "usage_milli", "0", "cycle_start", ARGV[1], "cycle_end", ARGV[2])
return 1
`)

// CheckAndDebit atomically debits cost units from a tenant's account. A
// passed cycle boundary is caught up first, so a stale account keeps
// enforcing the fresh cycle's quota even when no scheduler runs.
func (s *Store) CheckAndDebit(ctx context.Context, tenantID string, units float64) (scangate.Debit, error) {
	if err := s.maybeRoll(ctx, tenantID); err != nil {
		return scangate.Debit{}, err
	}

	res, err := debitScript.Run(ctx, s.client,
		[]string{s.accountKey(tenantID)},
		toMilli(units),
	).Int64Slice()
	if err != nil {
		return scangate.Debit{}, fmt.Errorf("scangate/redis: debit: %w", err)
	}
	if len(res) != 3 {
		return scangate.Debit{}, fmt.Errorf("scangate/redis: unexpected debit result: %v", res)
	}

	switch res[0] {
	case 1:
		return scangate.Debit{
			Accepted:    true,
			Remaining:   fromMilli(res[1]),
			WillOverage: res[2] == 1,
		}, nil
	case 0:
		return scangate.Debit{Accepted: false, Remaining: fromMilli(res[1])}, nil
	case -2:
		return scangate.Debit{}, scangate.ErrTenantNotFound
	default:
		return scangate.Debit{}, fmt.Errorf("scangate/redis: unexpected debit code: %d", res[0])
	}
}

// maybeRoll advances the cycle bounds when a boundary has passed, catching
// up over any number of skipped cycles the way the memory backend does. The
// losing side of a concurrent roll is a no-op.
func (s *Store) maybeRoll(ctx context.Context, tenantID string) error {
	key := s.accountKey(tenantID)

	val, err := s.client.HGet(ctx, key, "cycle_end").Result()
	if errors.Is(err, goredis.Nil) {
		return nil // missing account surfaces from the debit script
	}
	if err != nil {
		return fmt.Errorf("scangate/redis: cycle roll: %w", err)
	}

	endUnix, _ := strconv.ParseInt(val, 10, 64)
	if endUnix == 0 {
		return nil
	}

	now := time.Now().UTC()
	end := time.Unix(endUnix, 0).UTC()
	if now.Before(end) {
		return nil
	}

	start, next := scangate.NextCycle(end)
	for !next.After(now) {
		start, next = scangate.NextCycle(next)
	}

	err = rollScript.Run(ctx, s.client, []string{key},
		endUnix, start.UTC().Unix(), next.UTC().Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("scangate/redis: cycle roll: %w", err)
	}
	return nil
}

// Credit reverses a debit. Usage floors at zero.
func (s *Store) Credit(ctx context.Context, tenantID string, units float64) error {
	res, err := creditScript.Run(ctx, s.client,
		[]string{s.accountKey(tenantID)},
		toMilli(units),
	).Int64()
	if err != nil {
		return fmt.Errorf("scangate/redis: credit: %w", err)
	}
	if res == -2 {
		return scangate.ErrTenantNotFound
	}
	return nil
}

// Status returns a read-only projection of the account. A passed cycle
// boundary projects zero usage and caught-up cycle bounds without writing,
// so reset dates stay accurate between debits.
func (s *Store) Status(ctx context.Context, tenantID string) (scangate.QuotaStatus, error) {
	st, err := s.readStatus(ctx, tenantID)
	if err != nil {
		return scangate.QuotaStatus{}, err
	}

	now := time.Now().UTC()
	if st.CycleEnd.Unix() > 0 && !now.Before(st.CycleEnd) {
		st.CurrentUsage = 0
		st.Remaining = st.MonthlyQuota
		for !st.CycleEnd.After(now) {
			st.CycleStart, st.CycleEnd = scangate.NextCycle(st.CycleEnd)
		}
	}
	return st, nil
}

// readStatus reads the account hash as stored, without cycle projection.
func (s *Store) readStatus(ctx context.Context, tenantID string) (scangate.QuotaStatus, error) {
	vals, err := s.client.HMGet(ctx, s.accountKey(tenantID),
		"plan", "quota_milli", "usage_milli", "policy", "cycle_start", "cycle_end",
	).Result()
	if err != nil {
		return scangate.QuotaStatus{}, fmt.Errorf("scangate/redis: status: %w", err)
	}
	if vals[1] == nil {
		return scangate.QuotaStatus{}, scangate.ErrTenantNotFound
	}

	quota, _ := strconv.ParseInt(vals[1].(string), 10, 64)
	var usage int64
	if vals[2] != nil {
		usage, _ = strconv.ParseInt(vals[2].(string), 10, 64)
	}
	var cycleStart, cycleEnd int64
	if vals[4] != nil {
		cycleStart, _ = strconv.ParseInt(vals[4].(string), 10, 64)
	}
	if vals[5] != nil {
		cycleEnd, _ = strconv.ParseInt(vals[5].(string), 10, 64)
	}

	st := scangate.QuotaStatus{
		TenantID:      tenantID,
		MonthlyQuota:  fromMilli(quota),
		CurrentUsage:  fromMilli(usage),
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    time.Unix(cycleStart, 0).UTC(),
		CycleEnd:      time.Unix(cycleEnd, 0).UTC(),
	}
	if vals[0] != nil {
		st.PlanTier = vals[0].(string)
	}
	if vals[3] != nil {
		st.OveragePolicy = scangate.OveragePolicy(vals[3].(string))
	}
	st.Remaining = st.MonthlyQuota - st.CurrentUsage
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	return st, nil
}

// ResetCycle zeroes usage and advances the cycle bounds. Idempotent.
func (s *Store) ResetCycle(ctx context.Context, tenantID string, boundary time.Time) error {
	_, newEnd := scangate.NextCycle(boundary)
	res, err := resetScript.Run(ctx, s.client,
		[]string{s.accountKey(tenantID)},
		boundary.UTC().Unix(), newEnd.UTC().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("scangate/redis: reset cycle: %w", err)
	}
	if res == -2 {
		return scangate.ErrTenantNotFound
	}
	return nil
}

// Accounts enumerates every account under the key prefix. Cycle bounds come
// back as stored, not projected, so the scheduler sees boundaries that are
// due for reset.
func (s *Store) Accounts(ctx context.Context) ([]scangate.QuotaStatus, error) {
	var (
		out    []scangate.QuotaStatus
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scangate/redis: accounts: %w", err)
		}
		for _, key := range keys {
			st, err := s.readStatus(ctx, strings.TrimPrefix(key, s.keyPrefix))
			if errors.Is(err, scangate.ErrTenantNotFound) {
				continue // deleted between the scan and the read
			}
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// SetAccount provisions or reconfigures a tenant account (upsert). Usage is
// preserved for an existing account.
func (s *Store) SetAccount(ctx context.Context, acct scangate.TenantAccount) error {
	key := s.accountKey(acct.TenantID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("scangate/redis: set account: %w", err)
	}

	fields := []any{
		"plan", acct.PlanTier,
		"quota_milli", toMilli(acct.MonthlyQuota),
		"policy", string(acct.OveragePolicy),
		"cycle_start", acct.CycleStart.UTC().Unix(),
		"cycle_end", acct.CycleEnd.UTC().Unix(),
	}
	if exists == 0 {
		fields = append(fields, "usage_milli", 0)
	}

	if err := s.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("scangate/redis: set account: %w", err)
	}
	return nil
}
