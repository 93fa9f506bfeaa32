package service

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// ErrCircuitOpen is returned without calling the collaborator while its breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a collaborator after consecutive failures and tries it
// again once timeout has passed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailureTime  time.Time
	maxTrials        int
	inFlightTrials   int
	isFailure        func(error) bool
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		maxTrials:        1,
		isFailure:        func(err error) bool { return err != nil },
		now:              time.Now,
	}
}

// Call runs fn unless the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	trial, err := cb.before()
	if err != nil {
		return err
	}
	err = fn()
	cb.after(trial, err)
	return err
}

func (cb *CircuitBreaker) before() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
	}
	if cb.state == StateHalfOpen {
		if cb.inFlightTrials >= cb.maxTrials {
			return false, ErrCircuitOpen
		}
		cb.inFlightTrials++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) after(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inFlightTrials--
	}
	if err != nil && !cb.isFailure(err) {
		// Neither success nor failure: the collaborator's health is unknown.
		return
	}
	if err != nil {
		cb.failureCount++
		cb.successCount = 0
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
		}
		return
	}
	cb.failureCount = 0
	cb.successCount++
	if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
		cb.state = StateClosed
		cb.successCount = 0
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerPool keeps one breaker per collaborator.
type CircuitBreakerPool struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	failureTh int
	successTh int
	timeout   time.Duration
	isFailure func(error) bool
}

// PoolOption configures a CircuitBreakerPool.
type PoolOption func(*CircuitBreakerPool)

// WithFailureClassifier decides which errors count against a collaborator. Errors it
// rejects leave the breaker untouched.
func WithFailureClassifier(isFailure func(error) bool) PoolOption {
	return func(p *CircuitBreakerPool) { p.isFailure = isFailure }
}

// NewCircuitBreakerPool creates a new circuit breaker pool
func NewCircuitBreakerPool(failureThreshold, successThreshold int, timeout time.Duration, opts ...PoolOption) *CircuitBreakerPool {
	p := &CircuitBreakerPool{
		breakers:  make(map[string]*CircuitBreaker),
		failureTh: failureThreshold,
		successTh: successThreshold,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns or creates the breaker for a collaborator.
func (p *CircuitBreakerPool) Get(name string) *CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(p.failureTh, p.successTh, p.timeout)
	if p.isFailure != nil {
		cb.isFailure = p.isFailure
	}
	p.breakers[name] = cb
	return cb
}

// States reports the state of every breaker created so far.
func (p *CircuitBreakerPool) States() map[string]CircuitState {
	p.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(p.breakers))
	for k, v := range p.breakers {
		breakers[k] = v
	}
	p.mu.Unlock()

	out := make(map[string]CircuitState, len(breakers))
	for name, cb := range breakers {
		out[name] = cb.State()
	}
	return out
}
