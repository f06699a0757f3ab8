// Package pool manages named connection pools: bounded checkout with retrying
// acquisition, single-shot queries and transactions with guaranteed release,
// and per-pool metrics and health.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

// Manager owns a set of pools keyed by ID. It is safe for concurrent use;
// the manager lock only guards the pool map, never a checkout.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	group singleflight.Group

	log    logger.Logger
	pub    event.Publisher
	policy retry.Policy

	mwMu       sync.RWMutex
	middleware []QueryMiddleware
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPublisher sends connection, release and enqueue events to pub.
func WithPublisher(pub event.Publisher) Option {
	return func(m *Manager) { m.pub = pub }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithMiddleware(mws ...QueryMiddleware) Option {
	return func(m *Manager) { m.middleware = append(m.middleware, mws...) }
}

// NewManager returns a manager with no pools.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pools:  make(map[string]*Pool),
		log:    logger.NewNop(),
		pub:    event.Nop,
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(map[string]any{"component": "pool"})
	return m
}

// Use appends middleware to the ExecuteQuery chain. The first middleware added is outermost.
func (m *Manager) Use(mws ...QueryMiddleware) {
	m.mwMu.Lock()
	defer m.mwMu.Unlock()
	m.middleware = append(m.middleware, mws...)
}

// RetryPolicy returns the policy applied to acquisition, queries and transactions.
func (m *Manager) RetryPolicy() retry.Policy { return m.policy }

// InitializePool creates the pool poolID and verifies it with a round-trip
// query. Initializing an existing ID returns the existing pool; concurrent
// calls for the same ID share one initialization.
func (m *Manager) InitializePool(ctx context.Context, poolID string, cfg Config) (*Pool, error) {
	if p, ok := m.lookup(poolID); ok {
		m.log.Warn("pool %q already initialized, returning existing pool", poolID)
		return p, nil
	}

	v, err, _ := m.group.Do(poolID, func() (any, error) {
		if p, ok := m.lookup(poolID); ok {
			return p, nil
		}
		p, err := m.createPool(ctx, poolID, cfg)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.pools[poolID] = p
		m.mu.Unlock()
		m.log.Info("pool %q initialized (min %d, max %d)", poolID, p.cfg.Min, p.cfg.Max)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

func (m *Manager) createPool(ctx context.Context, poolID string, cfg Config) (*Pool, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, &dberr.PoolInitError{PoolID: poolID, Err: err}
	}
	p, err := newPool(ctx, poolID, cfg, m.log, m.pub)
	if err != nil {
		return nil, &dberr.PoolInitError{PoolID: poolID, Err: err}
	}
	if err := verify(ctx, p); err != nil {
		_ = p.Close(ctx)
		return nil, &dberr.PoolInitError{PoolID: poolID, Err: err}
	}
	return p, nil
}

func verify(ctx context.Context, p *Pool) error {
	conn, err := p.acquire(ctx, 0)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Query(ctx, "SELECT 1")
	return err
}

func (m *Manager) lookup(poolID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[poolID]
	return p, ok
}

// GetPool returns the pool registered under poolID.
func (m *Manager) GetPool(poolID string) (*Pool, error) {
	if p, ok := m.lookup(poolID); ok {
		return p, nil
	}
	return nil, &dberr.PoolNotFoundError{PoolID: poolID}
}

// PoolIDs lists the registered pools in sorted order.
func (m *Manager) PoolIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AcquireOptions tune a single checkout.
type AcquireOptions struct {
	// Timeout bounds each wait for a free slot; zero uses the pool's AcquireTimeout.
	Timeout time.Duration
}

func (m *Manager) retryHook(poolID, op string) retry.Hook {
	return func(attempt int, err error, delay time.Duration) {
		m.log.Warn("pool %q: %s attempt %d failed, retrying in %s: %v", poolID, op, attempt, delay, err)
	}
}

// GetConnection checks out a connection from poolID, retrying transient
// failures under the retry policy. The caller must Release it.
func (m *Manager) GetConnection(ctx context.Context, poolID string, opts AcquireOptions) (*Conn, error) {
	p, err := m.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	conn, attempts, err := retry.Do(ctx, m.policy, retry.IsConnectionError, m.retryHook(poolID, "acquire"),
		func(int) (*Conn, error) {
			return p.acquire(ctx, opts.Timeout)
		})
	if err != nil {
		return nil, &dberr.ConnectionAcquisitionError{PoolID: poolID, Attempts: attempts, Err: err}
	}
	return conn, nil
}

// ExecuteQuery runs one statement on a connection from poolID through the
// middleware chain. The connection is released whether the statement succeeds or not.
func (m *Manager) ExecuteQuery(ctx context.Context, poolID, sql string, params []any, opts QueryOptions) (*driver.Result, error) {
	p, err := m.GetPool(poolID)
	if err != nil {
		return nil, err
	}

	m.mwMu.RLock()
	handler := chain(m.middleware, func(ctx context.Context, stmt *Statement) (*driver.Result, error) {
		return p.runStatement(ctx, stmt, opts)
	})
	m.mwMu.RUnlock()

	returnsRows := opts.returnsRows(sql)
	res, attempts, err := retry.Do(ctx, m.policy, retry.IsConnectionError, m.retryHook(poolID, "query"),
		func(attempt int) (*driver.Result, error) {
			return handler(ctx, &Statement{
				PoolID:      poolID,
				SQL:         sql,
				Params:      params,
				ReturnsRows: returnsRows,
				Attempt:     attempt,
			})
		})
	if err != nil {
		return nil, &dberr.QueryExecutionError{PoolID: poolID, Attempts: attempts, Err: err}
	}
	return res, nil
}

func (p *Pool) runStatement(ctx context.Context, stmt *Statement, opts QueryOptions) (*driver.Result, error) {
	conn, err := p.acquire(ctx, opts.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if stmt.ReturnsRows {
		return conn.Query(ctx, stmt.SQL, stmt.Params...)
	}
	return conn.Execute(ctx, stmt.SQL, stmt.Params...)
}

// TxOptions tune ExecuteTransaction.
type TxOptions struct {
	Isolation      driver.IsolationLevel
	ReadOnly       bool
	AcquireTimeout time.Duration
}

// ExecuteTransaction runs fn inside a transaction on one connection from poolID.
// See InTransaction.
func (m *Manager) ExecuteTransaction(ctx context.Context, poolID string, fn func(ctx context.Context, conn *Conn) (any, error), opts TxOptions) (any, error) {
	return InTransaction(ctx, m, poolID, fn, opts)
}

// InTransaction commits when fn returns nil and rolls back when it returns an
// error or panics; a panic is re-raised once the connection is released.
// Attempts failing with transient connection errors are retried under the
// manager's retry policy, so fn may run more than once.
func InTransaction[T any](ctx context.Context, m *Manager, poolID string, fn func(ctx context.Context, conn *Conn) (T, error), opts TxOptions) (T, error) {
	p, err := m.GetPool(poolID)
	if err != nil {
		var zero T
		return zero, err
	}
	res, attempts, err := retry.Do(ctx, m.policy, retry.IsConnectionError, m.retryHook(poolID, "transaction"),
		func(int) (T, error) {
			return runTx(ctx, p, fn, opts)
		})
	if err != nil {
		return res, &dberr.TransactionExecutionError{PoolID: poolID, Attempts: attempts, Err: err}
	}
	return res, nil
}

func runTx[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, conn *Conn) (T, error), opts TxOptions) (result T, err error) {
	conn, err := p.acquire(ctx, opts.AcquireTimeout)
	if err != nil {
		return result, err
	}
	defer conn.Release()

	if err = conn.BeginTransaction(ctx, driver.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}); err != nil {
		return result, err
	}
	defer func() {
		if r := recover(); r != nil {
			p.rollbackQuietly(ctx, conn)
			panic(r)
		}
	}()

	result, err = fn(ctx, conn)
	if err != nil {
		p.rollbackQuietly(ctx, conn)
		return result, err
	}
	if err = conn.Commit(ctx); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// rollbackQuietly logs rollback failures so they never mask the error that caused the rollback.
func (p *Pool) rollbackQuietly(ctx context.Context, conn *Conn) {
	if err := conn.Rollback(context.WithoutCancel(ctx)); err != nil {
		p.log.Error("rollback failed: %v", err)
	}
}

// GetPoolStatus snapshots one pool.
func (m *Manager) GetPoolStatus(poolID string) (Status, error) {
	p, err := m.GetPool(poolID)
	if err != nil {
		return Status{}, err
	}
	return p.Status(), nil
}

// GetAllPoolsStatus snapshots every pool, sorted by ID.
func (m *Manager) GetAllPoolsStatus() []Status {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

// ResizePool changes the number of connections poolID may hand out at once.
// The size is clamped to the pool's [Min, Max]; the applied size is returned.
func (m *Manager) ResizePool(ctx context.Context, poolID string, size int) (int, error) {
	p, err := m.GetPool(poolID)
	if err != nil {
		return 0, err
	}
	applied, err := p.resize(ctx, size)
	if err != nil {
		return applied, fmt.Errorf("pool %q: resize to %d: %w", poolID, size, err)
	}
	if applied != size {
		m.log.Warn("pool %q: requested size %d clamped to %d (min %d, max %d)", poolID, size, applied, p.cfg.Min, p.cfg.Max)
	} else {
		m.log.Info("pool %q resized to %d", poolID, applied)
	}
	return applied, nil
}

// RefreshPool replaces poolID with a fresh pool built from its original
// configuration, then drains and closes the old one. Connections still
// checked out of the old pool are closed when released.
func (m *Manager) RefreshPool(ctx context.Context, poolID string) error {
	old, err := m.GetPool(poolID)
	if err != nil {
		return err
	}
	fresh, err := m.createPool(ctx, poolID, old.cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if cur, ok := m.pools[poolID]; !ok || cur != old {
		m.mu.Unlock()
		_ = fresh.Close(ctx)
		return fmt.Errorf("pool %q changed during refresh: %w", poolID, dberr.ErrPoolClosed)
	}
	m.pools[poolID] = fresh
	m.mu.Unlock()

	m.log.Info("pool %q refreshed", poolID)
	return old.Close(ctx)
}

// ClosePool removes and closes poolID.
func (m *Manager) ClosePool(ctx context.Context, poolID string) error {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	delete(m.pools, poolID)
	m.mu.Unlock()
	if !ok {
		return &dberr.PoolNotFoundError{PoolID: poolID}
	}
	return p.Close(ctx)
}

// CloseAllPools closes every pool, continuing past failures, and returns
// the joined errors.
func (m *Manager) CloseAllPools(ctx context.Context) error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var errs []error
	for id, p := range pools {
		if err := p.Close(ctx); err != nil {
			m.log.Error("closing pool %q: %v", id, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
