package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerMiddleware fails statements fast on a pool whose database
// keeps dropping connections. Each pool has its own breaker. Only
// connection-class failures count; a constraint violation says nothing
// about the database being reachable.
type CircuitBreakerMiddleware struct {
	Threshold    int           // consecutive failures before opening
	ResetTimeout time.Duration // time to wait before half-open

	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

type breaker struct {
	state          State
	failures       int
	lastFailure    time.Time
	halfOpenPassed bool
}

func CircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreakerMiddleware{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
		now:          time.Now,
		breakers:     make(map[string]*breaker),
	}
}

func (m *CircuitBreakerMiddleware) Name() string {
	return "CircuitBreaker"
}

// State reports the breaker state for a pool.
func (m *CircuitBreakerMiddleware) State(poolID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[poolID]; ok {
		return b.state
	}
	return StateClosed
}

func (m *CircuitBreakerMiddleware) Process(ctx context.Context, stmt *pool.Statement, next pool.QueryFunc) (*driver.Result, error) {
	m.mu.Lock()
	b, ok := m.breakers[stmt.PoolID]
	if !ok {
		b = &breaker{}
		m.breakers[stmt.PoolID] = b
	}
	switch b.state {
	case StateOpen:
		if m.now().Sub(b.lastFailure) <= m.ResetTimeout {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenPassed = true
	case StateHalfOpen:
		// one probe at a time
		if b.halfOpenPassed {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		b.halfOpenPassed = true
	}
	m.mu.Unlock()

	returned := false
	defer func() {
		// a panicking probe must not hold the half-open slot forever
		if !returned {
			m.mu.Lock()
			if b.state == StateHalfOpen {
				b.halfOpenPassed = false
			}
			m.mu.Unlock()
		}
	}()
	res, err := next(ctx, stmt)
	returned = true

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err != nil && retry.IsConnectionError(err):
		m.recordFailure(b)
	case b.state == StateHalfOpen && err != nil:
		// the probe failed for an unrelated reason; let the next one through
		b.halfOpenPassed = false
	default:
		m.recordSuccess(b)
	}
	return res, err
}

func (m *CircuitBreakerMiddleware) recordFailure(b *breaker) {
	b.failures++
	b.lastFailure = m.now()

	switch b.state {
	case StateClosed:
		if b.failures >= m.Threshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenPassed = false
	}
}

func (m *CircuitBreakerMiddleware) recordSuccess(b *breaker) {
	b.state = StateClosed
	b.failures = 0
	b.halfOpenPassed = false
}
