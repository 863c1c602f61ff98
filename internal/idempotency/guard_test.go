package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"payments/internal/cache"
	"payments/internal/model"
	"payments/internal/store"
)

type failingStore struct{}

func (failingStore) Find(context.Context, string) (model.IdempotencyRecord, error) {
	return model.IdempotencyRecord{}, errors.New("db down")
}

func (failingStore) Claim(context.Context, model.IdempotencyRecord) (bool, error) {
	return false, errors.New("db down")
}

func (failingStore) Release(context.Context, string) error {
	return errors.New("db down")
}

func (failingStore) Save(context.Context, model.IdempotencyRecord) error {
	return errors.New("db down")
}

func newGuard(t *testing.T, s Store) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGuard(s, cache.NewRedis(rdb), time.Hour, nil), mr
}

func TestCheckWithoutTokenIsFresh(t *testing.T) {
	g, _ := newGuard(t, failingStore{})
	got, err := g.Check(context.Background(), "")
	if err != nil || got != Fresh {
		t.Fatalf("Check(\"\") = %v, %v", got, err)
	}
}

func TestCommitThenCheckIsDuplicate(t *testing.T) {
	ctx := context.Background()
	keys := store.NewMemoryIdempotencyKeys()
	g, mr := newGuard(t, keys)

	if got, _ := g.Check(ctx, "tok-1"); got != Fresh {
		t.Fatalf("expected fresh before commit, got %v", got)
	}
	if err := g.Commit(ctx, "tok-1", map[string]string{"id": "p-1"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if !mr.Exists("idempotency:tok-1") {
		t.Fatal("expected sentinel in cache")
	}
	if ttl := mr.TTL("idempotency:tok-1"); ttl != time.Hour {
		t.Fatalf("unexpected sentinel ttl %s", ttl)
	}
	rec, err := keys.Find(ctx, "tok-1")
	if err != nil {
		t.Fatalf("expected durable record: %v", err)
	}
	if rec.Status != model.IdempotencyCompleted || !rec.ExpiresAt.Equal(rec.CreatedAt.Add(time.Hour)) {
		t.Fatalf("unexpected record %+v", rec)
	}

	if got, _ := g.Check(ctx, "tok-1"); got != Duplicate {
		t.Fatalf("expected duplicate, got %v", got)
	}
}

func TestCheckFallsBackToStoreWhenSentinelLost(t *testing.T) {
	ctx := context.Background()
	g, mr := newGuard(t, store.NewMemoryIdempotencyKeys())

	if err := g.Commit(ctx, "tok-2", "resp"); err != nil {
		t.Fatal(err)
	}
	mr.Del("idempotency:tok-2")

	if got, err := g.Check(ctx, "tok-2"); err != nil || got != Duplicate {
		t.Fatalf("Check = %v, %v", got, err)
	}
}

func TestCheckFallsBackToStoreWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	g, mr := newGuard(t, store.NewMemoryIdempotencyKeys())
	if err := g.Commit(ctx, "tok-3", "resp"); err != nil {
		t.Fatal(err)
	}
	mr.SetError("ERR cache unavailable")

	if got, err := g.Check(ctx, "tok-3"); err != nil || got != Duplicate {
		t.Fatalf("Check = %v, %v", got, err)
	}
}

func TestCommitSurvivesSentinelFailure(t *testing.T) {
	ctx := context.Background()
	keys := store.NewMemoryIdempotencyKeys()
	g, mr := newGuard(t, keys)
	mr.SetError("ERR cache unavailable")

	if err := g.Commit(ctx, "tok-4", "resp"); err != nil {
		t.Fatalf("Commit should absorb cache failure: %v", err)
	}
	if _, err := keys.Find(ctx, "tok-4"); err != nil {
		t.Fatalf("durable record missing: %v", err)
	}
}

func TestCommitReportsDurableFailure(t *testing.T) {
	g, mr := newGuard(t, failingStore{})
	if err := g.Commit(context.Background(), "tok-5", "resp"); err == nil {
		t.Fatal("expected durable failure to be returned")
	}
	if mr.Exists("idempotency:tok-5") {
		t.Fatal("sentinel must not be written without a durable record")
	}
}

func TestExpiredRecordIsFresh(t *testing.T) {
	ctx := context.Background()
	keys := store.NewMemoryIdempotencyKeys()
	g, mr := newGuard(t, keys)

	if err := g.Commit(ctx, "tok-6", "resp"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Hour)
	g.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if got, err := g.Check(ctx, "tok-6"); err != nil || got != Fresh {
		t.Fatalf("Check = %v, %v", got, err)
	}
	if _, ok, _ := g.Stored(ctx, "tok-6"); ok {
		t.Fatal("expired snapshot must not be replayed")
	}
}

func TestStoredReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t, store.NewMemoryIdempotencyKeys())
	if err := g.Commit(ctx, "tok-7", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	snap, ok, err := g.Stored(ctx, "tok-7")
	if err != nil || !ok || string(snap) != `{"n":1}` {
		t.Fatalf("Stored = %s, %v, %v", snap, ok, err)
	}
}

func TestCheckSurfacesStoreFailure(t *testing.T) {
	g, _ := newGuard(t, failingStore{})
	if _, err := g.Check(context.Background(), "tok-8"); err == nil {
		t.Fatal("expected store failure")
	}
}

func TestCheckClaimsTokenOnce(t *testing.T) {
	ctx := context.Background()
	keys := store.NewMemoryIdempotencyKeys()
	g, _ := newGuard(t, keys)

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.Check(ctx, "tok-9")
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if r == Fresh {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("%d callers got Fresh, want exactly 1", fresh)
	}
	rec, err := keys.Find(ctx, "tok-9")
	if err != nil || rec.Status != model.IdempotencyInFlight {
		t.Fatalf("claim record = %+v, %v", rec, err)
	}
	if _, ok, _ := g.Stored(ctx, "tok-9"); ok {
		t.Fatal("an in-flight claim has no response to replay")
	}
}

func TestReleaseFreesToken(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t, store.NewMemoryIdempotencyKeys())

	if got, _ := g.Check(ctx, "tok-10"); got != Fresh {
		t.Fatalf("first Check = %v", got)
	}
	if got, _ := g.Check(ctx, "tok-10"); got != Duplicate {
		t.Fatalf("Check while in flight = %v", got)
	}
	if err := g.Release(ctx, "tok-10"); err != nil {
		t.Fatal(err)
	}
	if got, _ := g.Check(ctx, "tok-10"); got != Fresh {
		t.Fatalf("Check after release = %v", got)
	}
}

func TestAbandonedClaimExpires(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuard(t, store.NewMemoryIdempotencyKeys())
	start := time.Now()
	g.now = func() time.Time { return start }

	if got, _ := g.Check(ctx, "tok-11"); got != Fresh {
		t.Fatalf("first Check = %v", got)
	}
	g.now = func() time.Time { return start.Add(DefaultClaimLease + time.Second) }
	if got, _ := g.Check(ctx, "tok-11"); got != Fresh {
		t.Fatalf("Check after lease = %v", got)
	}
}
