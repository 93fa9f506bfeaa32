package repository

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCost is returned when a consume is attempted with a non-positive cost.
var ErrInvalidCost = errors.New("cost must be positive")

// BucketKey identifies a single bucket: one principal under one quota class.
type BucketKey struct {
	PrincipalID string
	Class       string
}

func (k BucketKey) String() string {
	return k.PrincipalID + "|" + k.Class
}

// Limits are the static parameters a bucket is created with.
type Limits struct {
	Capacity        int64
	RefillPerSecond float64
	// IdleTTL is how long a bucket may go without a consume before it is evicted.
	IdleTTL time.Duration
}

// Result is the outcome of a single consume attempt.
type Result struct {
	Allowed   bool
	Remaining float64
	// Wait is the minimum time until the rejected cost could be admitted. Zero when allowed.
	Wait time.Duration
}

// Store defines the quota backends used by the rate limiter. Implementations must be
// concurrency-safe; the Redis store additionally shares state across gateway replicas.
type Store interface {
	// Consume refills the bucket identified by key and attempts to take cost tokens.
	// The bucket is created full with the given limits if it does not exist.
	Consume(ctx context.Context, key BucketKey, limits Limits, cost float64) (Result, error)

	// Sweep removes buckets idle for longer than their TTL and reports how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
