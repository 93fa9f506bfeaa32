package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"admission-gateway/internal/config"
	"admission-gateway/internal/repository"
)

// Outcome is the caller-facing result of a quota check.
type Outcome struct {
	Admitted          bool
	RetryAfterSeconds int
	Remaining         float64
	Capacity          int64
}

// Limiter provides rate-limiting evaluation.
type Limiter struct {
	store  repository.Store
	quotas *config.QuotaTable
}

// NewLimiter constructs a Limiter.
func NewLimiter(s repository.Store, quotas *config.QuotaTable) *Limiter {
	return &Limiter{store: s, quotas: quotas}
}

// TryConsume takes cost tokens from the principal's bucket for class. Only the bucket
// is mutated; an unknown class or non-positive cost is an InvalidInput error.
func (l *Limiter) TryConsume(ctx context.Context, p Principal, class config.QuotaClass, cost int) (Outcome, error) {
	if cost <= 0 {
		return Outcome{}, invalidInput(ErrInvalidCost, "invalid cost %d", cost)
	}
	q, ok := l.quotas.Get(class)
	if !ok {
		return Outcome{}, invalidInput(ErrUnknownQuotaClass, "quota class %q", class)
	}

	key := repository.BucketKey{PrincipalID: p.ID, Class: string(class)}
	limits := repository.Limits{
		Capacity:        q.Capacity,
		RefillPerSecond: q.RefillRate(),
		IdleTTL:         q.IdleTTL,
	}
	res, err := l.store.Consume(ctx, key, limits, float64(cost))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCost) {
			return Outcome{}, invalidInput(ErrInvalidCost, "invalid cost %d", cost)
		}
		return Outcome{}, fmt.Errorf("consume %s: %w", key, err)
	}

	out := Outcome{Admitted: res.Allowed, Remaining: res.Remaining, Capacity: q.Capacity}
	if !res.Allowed {
		out.RetryAfterSeconds = retryAfterSeconds(res.Wait.Seconds())
	}
	return out, nil
}

// retryAfterSeconds rounds a wait up to whole seconds. A rejection always advises at
// least one second.
func retryAfterSeconds(wait float64) int {
	s := int(math.Ceil(wait))
	if s < 1 {
		s = 1
	}
	return s
}
