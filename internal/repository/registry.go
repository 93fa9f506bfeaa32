package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Option configures a BucketRegistry.
type Option func(*BucketRegistry)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *BucketRegistry) { r.now = now }
}

// WithEvictionHook registers a callback invoked with the number of buckets removed by
// each sweep that removed at least one.
func WithEvictionHook(fn func(n int)) Option {
	return func(r *BucketRegistry) { r.onEvict = fn }
}

// BucketRegistry is the in-memory Store. It keeps exactly one TokenBucket per key;
// buckets are created lazily and dropped once idle for longer than their TTL.
type BucketRegistry struct {
	buckets sync.Map // BucketKey -> *TokenBucket
	size    atomic.Int64

	now     func() time.Time
	onEvict func(n int)

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool
}

// NewBucketRegistry returns an empty registry. Call Start to run the eviction janitor.
func NewBucketRegistry(opts ...Option) *BucketRegistry {
	r := &BucketRegistry{
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the bucket for key, creating a full one on first use. Concurrent
// first-time callers for the same key all receive the same bucket.
func (r *BucketRegistry) GetOrCreate(key BucketKey, limits Limits) *TokenBucket {
	if b, ok := r.buckets.Load(key); ok {
		return b.(*TokenBucket)
	}
	fresh := NewTokenBucket(limits, r.now())
	actual, loaded := r.buckets.LoadOrStore(key, fresh)
	if !loaded {
		r.size.Add(1)
	}
	return actual.(*TokenBucket)
}

// Consume implements Store.
func (r *BucketRegistry) Consume(_ context.Context, key BucketKey, limits Limits, cost float64) (Result, error) {
	if cost <= 0 {
		return Result{}, ErrInvalidCost
	}
	for {
		b := r.GetOrCreate(key, limits)
		res, err := b.Consume(r.now(), cost)
		if errors.Is(err, errBucketEvicted) {
			// The sweep dropped this bucket between lookup and consume; it is already
			// gone from the map (or about to be), so drop our reference and retry.
			if r.buckets.CompareAndDelete(key, b) {
				r.size.Add(-1)
			}
			continue
		}
		return res, err
	}
}

// Sweep implements Store. A bucket is removed when its last refill is older than its TTL.
func (r *BucketRegistry) Sweep(_ context.Context) (int, error) {
	now := r.now()
	evicted := 0
	r.buckets.Range(func(k, v any) bool {
		b := v.(*TokenBucket)
		if !b.evictIfIdle(now) {
			return true
		}
		if r.buckets.CompareAndDelete(k, b) {
			r.size.Add(-1)
			evicted++
		}
		return true
	})
	if evicted > 0 && r.onEvict != nil {
		r.onEvict(evicted)
	}
	return evicted, nil
}

// Len returns the number of live buckets.
func (r *BucketRegistry) Len() int {
	return int(r.size.Load())
}

// Ping implements Store. The in-memory registry is always reachable.
func (r *BucketRegistry) Ping(context.Context) error {
	return nil
}

// Start launches the janitor goroutine sweeping every interval. It is a no-op when
// called more than once.
func (r *BucketRegistry) Start(interval time.Duration) {
	if interval <= 0 || !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.janitor(interval)
}

func (r *BucketRegistry) janitor(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, _ := r.Sweep(context.Background())
			if n > 0 {
				log.Debug().Int("evicted", n).Int("live", r.Len()).Msg("idle buckets evicted")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the janitor and waits for it to exit.
func (r *BucketRegistry) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
	return nil
}
