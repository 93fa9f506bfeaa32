package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// manualClock is a settable time source shared by the registry tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var hourly = Limits{Capacity: 5, RefillPerSecond: 5.0 / 3600, IdleTTL: time.Hour}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	reg := NewBucketRegistry()
	key := BucketKey{PrincipalID: "u1", Class: "profile-generation"}

	first := reg.GetOrCreate(key, hourly)
	second := reg.GetOrCreate(key, hourly)
	if first != second {
		t.Fatal("expected the same bucket for the same key")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 bucket, got %d", reg.Len())
	}
}

func TestRegistryConcurrentFirstUse(t *testing.T) {
	reg := NewBucketRegistry()
	key := BucketKey{PrincipalID: "u1", Class: "chat-message"}
	limits := Limits{Capacity: 10, RefillPerSecond: 1.0 / 3600, IdleTTL: time.Hour}

	const n = 200
	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		start   = make(chan struct{})
		seen    sync.Map
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			seen.Store(reg.GetOrCreate(key, limits), struct{}{})
			res, err := reg.Consume(context.Background(), key, limits, 1)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	buckets := 0
	seen.Range(func(_, _ any) bool { buckets++; return true })
	if buckets != 1 {
		t.Fatalf("expected callers to converge on one bucket, saw %d", buckets)
	}
	if got := allowed.Load(); got != 10 {
		t.Fatalf("expected exactly capacity (10) admitted, got %d", got)
	}
}

func TestRegistryKeysAreIndependent(t *testing.T) {
	reg := NewBucketRegistry()
	ctx := context.Background()
	limits := Limits{Capacity: 2, RefillPerSecond: 2, IdleTTL: time.Minute}

	u1 := BucketKey{PrincipalID: "user:1", Class: "chat-message"}
	u2 := BucketKey{PrincipalID: "user:2", Class: "chat-message"}
	u1Other := BucketKey{PrincipalID: "user:1", Class: "action-execute"}

	for i := 0; i < 2; i++ {
		if res, _ := reg.Consume(ctx, u1, limits, 1); !res.Allowed {
			t.Fatalf("user 1 request %d should succeed", i+1)
		}
	}
	if res, _ := reg.Consume(ctx, u1, limits, 1); res.Allowed {
		t.Fatal("user 1 third request should fail")
	}
	if res, _ := reg.Consume(ctx, u2, limits, 1); !res.Allowed {
		t.Fatal("user 2 should have independent quota")
	}
	if res, _ := reg.Consume(ctx, u1Other, limits, 1); !res.Allowed {
		t.Fatal("another class for user 1 should have independent quota")
	}
}

func TestRegistrySweepEvictsIdleBuckets(t *testing.T) {
	clock := &manualClock{now: epoch}
	var hooked atomic.Int64
	reg := NewBucketRegistry(
		WithClock(clock.Now),
		WithEvictionHook(func(n int) { hooked.Add(int64(n)) }),
	)
	ctx := context.Background()
	key := BucketKey{PrincipalID: "u1", Class: "profile-generation"}

	for i := 0; i < 5; i++ {
		reg.Consume(ctx, key, hourly, 1)
	}
	if res, _ := reg.Consume(ctx, key, hourly, 1); res.Allowed {
		t.Fatal("sixth consume within the hour should be rejected")
	}
	stale := reg.GetOrCreate(key, hourly)

	clock.Advance(30 * time.Minute)
	if n, _ := reg.Sweep(ctx); n != 0 {
		t.Fatalf("bucket within TTL must survive, evicted %d", n)
	}

	clock.Advance(31 * time.Minute)
	n, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || reg.Len() != 0 {
		t.Fatalf("expected one eviction and empty registry, got evicted=%d live=%d", n, reg.Len())
	}
	if hooked.Load() != 1 {
		t.Fatalf("expected eviction hook to see 1, got %d", hooked.Load())
	}

	res, err := reg.Consume(ctx, key, hourly, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.Remaining != 4 {
		t.Fatalf("expected a fresh full bucket after eviction, got %+v", res)
	}
	if reg.GetOrCreate(key, hourly) == stale {
		t.Fatal("evicted bucket must not be reused")
	}
}

func TestRegistryConsumeOnEvictedBucketRetries(t *testing.T) {
	clock := &manualClock{now: epoch}
	reg := NewBucketRegistry(WithClock(clock.Now))
	ctx := context.Background()
	key := BucketKey{PrincipalID: "u1", Class: "chat-message"}
	limits := Limits{Capacity: 1, RefillPerSecond: 1.0 / 60, IdleTTL: time.Second}

	reg.Consume(ctx, key, limits, 1)
	stale := reg.GetOrCreate(key, limits)

	// Mark the bucket evicted without removing it from the map, as if a sweep were
	// between its two steps when the consume arrived.
	clock.Advance(2 * time.Second)
	if !stale.evictIfIdle(clock.Now()) {
		t.Fatal("expected bucket to be idle")
	}

	res, err := reg.Consume(ctx, key, limits, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Fatal("consume racing an eviction should land on a fresh bucket")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one live bucket, got %d", reg.Len())
	}
}

func TestRegistryJanitorStops(t *testing.T) {
	reg := NewBucketRegistry()
	key := BucketKey{PrincipalID: "u1", Class: "chat-message"}
	reg.Consume(context.Background(), key, Limits{Capacity: 1, RefillPerSecond: 1, IdleTTL: 10 * time.Millisecond}, 1)

	reg.Start(5 * time.Millisecond)
	reg.Start(5 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Fatal("expected janitor to evict the idle bucket")
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// second close is a no-op
	reg.Close()
}

func TestRegistryInvalidCost(t *testing.T) {
	reg := NewBucketRegistry()
	_, err := reg.Consume(context.Background(), BucketKey{PrincipalID: "u1", Class: "c"}, hourly, 0)
	if err != ErrInvalidCost {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("an invalid consume must not create a bucket")
	}
}

func BenchmarkRegistryConsumeParallel(b *testing.B) {
	reg := NewBucketRegistry()
	limits := Limits{Capacity: 1_000_000, RefillPerSecond: 1_000_000, IdleTTL: time.Minute}
	var n atomic.Int64
	b.RunParallel(func(pb *testing.PB) {
		key := BucketKey{PrincipalID: "user-" + string(rune('a'+n.Add(1)%26)), Class: "chat-message"}
		for pb.Next() {
			if _, err := reg.Consume(context.Background(), key, limits, 1); err != nil {
				b.Fatal(err)
			}
		}
	})
}
