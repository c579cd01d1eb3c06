//go:build integration

package redis_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/clinicware/scangate"
	ledgerredis "github.com/clinicware/scangate/ledger/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *ledgerredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := ledgerredis.New(client, ledgerredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func provision(t *testing.T, s *ledgerredis.Store, quota float64, policy scangate.OveragePolicy) {
	t.Helper()
	now := time.Now().UTC()
	err := s.SetAccount(context.Background(), scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  quota,
		OveragePolicy: policy,
		CycleStart:    now.AddDate(0, 0, -1),
		CycleEnd:      now.AddDate(0, 1, -1),
	})
	if err != nil {
		t.Fatalf("set account: %v", err)
	}
}

func TestDebitAndStatus(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 10, scangate.OverageBlock)

	deb, err := store.CheckAndDebit(ctx, "clinic-a", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !deb.Accepted || deb.Remaining != 9 {
		t.Fatalf("unexpected debit: %+v", deb)
	}

	status, err := store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentUsage != 1 {
		t.Fatalf("expected usage=1, got %v", status.CurrentUsage)
	}
}

func TestBlockPolicyDenies(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 1, scangate.OverageBlock)

	if _, err := store.CheckAndDebit(ctx, "clinic-a", 1); err != nil {
		t.Fatalf("first debit: %v", err)
	}

	deb, err := store.CheckAndDebit(ctx, "clinic-a", 1)
	if err != nil {
		t.Fatalf("second debit: %v", err)
	}
	if deb.Accepted {
		t.Fatal("expected denial past quota")
	}
}

func TestFractionalUnitsExact(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 1, scangate.OverageBlock)

	// five flash debits fill the quota exactly
	for i := 0; i < 5; i++ {
		deb, err := store.CheckAndDebit(ctx, "clinic-a", 0.2)
		if err != nil || !deb.Accepted {
			t.Fatalf("flash debit %d: accepted=%v err=%v", i+1, deb.Accepted, err)
		}
	}

	deb, err := store.CheckAndDebit(ctx, "clinic-a", 0.2)
	if err != nil {
		t.Fatalf("sixth debit: %v", err)
	}
	if deb.Accepted {
		t.Fatal("expected denial on the sixth flash debit")
	}
}

func TestCreditFloorsAtZero(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 10, scangate.OverageBlock)

	if _, err := store.CheckAndDebit(ctx, "clinic-a", 1); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := store.Credit(ctx, "clinic-a", 5); err != nil {
		t.Fatalf("credit: %v", err)
	}

	status, err := store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentUsage != 0 {
		t.Fatalf("expected usage floored at 0, got %v", status.CurrentUsage)
	}
}

func TestConcurrentDebitsNeverOvershoot(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 10, scangate.OverageBlock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deb, err := store.CheckAndDebit(ctx, "clinic-a", 1)
			if err == nil && deb.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 10 {
		t.Fatalf("expected exactly 10 accepted debits, got %d", accepted)
	}
}

func TestResetCycleIdempotent(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	provision(t, store, 10, scangate.OverageBlock)

	if _, err := store.CheckAndDebit(ctx, "clinic-a", 5); err != nil {
		t.Fatalf("debit: %v", err)
	}

	status, err := store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	boundary := status.CycleEnd

	if err := store.ResetCycle(ctx, "clinic-a", boundary); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := store.ResetCycle(ctx, "clinic-a", boundary); err != nil {
		t.Fatalf("second reset: %v", err)
	}

	status, err = store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentUsage != 0 {
		t.Fatalf("expected usage=0 after reset, got %v", status.CurrentUsage)
	}
	if !status.CycleStart.Equal(boundary) {
		t.Fatalf("expected cycle start at boundary, got %v", status.CycleStart)
	}
}

func TestQuotaEnforcedAfterCycleBoundary(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	// Account whose cycle ended two days ago and was never reset.
	now := time.Now().UTC()
	err := store.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  2,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    now.AddDate(0, -1, -2),
		CycleEnd:      now.AddDate(0, 0, -2),
	})
	if err != nil {
		t.Fatalf("set account: %v", err)
	}

	accepted := 0
	for i := 0; i < 10; i++ {
		deb, err := store.CheckAndDebit(ctx, "clinic-a", 1)
		if err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
		if deb.Accepted {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 accepted debits in the fresh cycle, got %d", accepted)
	}

	status, err := store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentUsage != 2 {
		t.Fatalf("expected usage=2, got %v", status.CurrentUsage)
	}
	if !status.CycleEnd.After(now) {
		t.Fatalf("expected caught-up cycle end after now, got %v", status.CycleEnd)
	}
}

func TestStatusProjectsPassedBoundary(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.SetAccount(ctx, scangate.TenantAccount{
		TenantID:      "clinic-a",
		MonthlyQuota:  10,
		OveragePolicy: scangate.OverageBlock,
		CycleStart:    now.AddDate(0, -2, -1),
		CycleEnd:      now.AddDate(0, -1, -1),
	})
	if err != nil {
		t.Fatalf("set account: %v", err)
	}

	// No debit has happened, so the stored cycle is still the stale one.
	status, err := store.Status(ctx, "clinic-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentUsage != 0 || status.Remaining != 10 {
		t.Fatalf("expected fresh-cycle usage, got %+v", status)
	}
	if !status.CycleEnd.After(now) {
		t.Fatalf("expected projected cycle end after now, got %v", status.CycleEnd)
	}
}

func TestAccountsListsProvisioned(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"clinic-a", "clinic-b"} {
		err := store.SetAccount(ctx, scangate.TenantAccount{
			TenantID:      id,
			PlanTier:      "basic",
			MonthlyQuota:  50,
			OveragePolicy: scangate.OverageBlock,
			CycleStart:    now.AddDate(0, 0, -1),
			CycleEnd:      now.AddDate(0, 1, -1),
		})
		if err != nil {
			t.Fatalf("set account %s: %v", id, err)
		}
	}

	accounts, err := store.Accounts(ctx)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	seen := map[string]bool{}
	for _, a := range accounts {
		seen[a.TenantID] = true
		if a.MonthlyQuota != 50 {
			t.Fatalf("unexpected quota for %s: %v", a.TenantID, a.MonthlyQuota)
		}
	}
	if !seen["clinic-a"] || !seen["clinic-b"] {
		t.Fatalf("missing tenants in %v", accounts)
	}
}

func TestUnknownTenant(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	if _, err := store.CheckAndDebit(ctx, "nope", 1); err != scangate.ErrTenantNotFound {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}
