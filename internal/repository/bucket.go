package repository

import (
	"errors"
	"sync"
	"time"
)

// errBucketEvicted is returned by a bucket that the registry has already dropped.
// Callers holding a stale reference retry against a fresh bucket.
var errBucketEvicted = errors.New("bucket evicted")

// TokenBucket holds one principal's quota for one class. Tokens refill continuously.
type TokenBucket struct {
	mu sync.Mutex

	capacity     float64
	tokens       float64
	rate         float64 // tokens per second
	idleTTL      time.Duration
	lastRefillAt time.Time
	evicted      bool
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(limits Limits, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:     float64(limits.Capacity),
		tokens:       float64(limits.Capacity),
		rate:         limits.RefillPerSecond,
		idleTTL:      limits.IdleTTL,
		lastRefillAt: now,
	}
}

// Consume refills the bucket up to now and takes cost tokens if enough are available.
// A rejected consume leaves the token count untouched.
func (b *TokenBucket) Consume(now time.Time, cost float64) (Result, error) {
	if cost <= 0 {
		return Result{}, ErrInvalidCost
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return Result{}, errBucketEvicted
	}
	b.refill(now)

	if b.tokens >= cost {
		b.tokens -= cost
		return Result{Allowed: true, Remaining: b.tokens}, nil
	}
	wait := (cost - b.tokens) / b.rate
	return Result{
		Allowed:   false,
		Remaining: b.tokens,
		Wait:      time.Duration(wait * float64(time.Second)),
	}, nil
}

// Tokens reports the token count the bucket would hold at now. It is a pure read:
// lastRefillAt is left alone, so inspecting a bucket never keeps it from going idle.
func (b *TokenBucket) Tokens(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.tokens
	if now.After(b.lastRefillAt) {
		tokens = min(b.capacity, tokens+now.Sub(b.lastRefillAt).Seconds()*b.rate)
	}
	return tokens
}

// refill must be called with mu held. lastRefillAt never moves backwards.
func (b *TokenBucket) refill(now time.Time) {
	if !now.After(b.lastRefillAt) {
		return
	}
	elapsed := now.Sub(b.lastRefillAt).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefillAt = now
}

// evictIfIdle marks the bucket evicted when it has not been touched since before cutoff
// for its own TTL. It reports whether the bucket was evicted.
func (b *TokenBucket) evictIfIdle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evicted {
		return true
	}
	if now.Sub(b.lastRefillAt) <= b.idleTTL {
		return false
	}
	b.evicted = true
	return true
}
