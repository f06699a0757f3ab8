// Package transaction runs multi-statement units of work on a single borrowed
// connection with explicit state tracking, timeout-triggered rollback, retry
// of transient failures and an event feed.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/event"
	"github.com/Aeglx/WeDrawOS-sub006/logger"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

// DefaultTimeout is applied when neither Options nor the manager set one.
const DefaultTimeout = 30 * time.Second

// ErrForcedRollback is recorded on transactions rolled back by ForceRollbackAll.
var ErrForcedRollback = errors.New("transaction force rolled back")

// Conn is the connection capability a transaction needs. *pool.Conn implements it.
type Conn interface {
	Query(ctx context.Context, sql string, params ...any) (*driver.Result, error)
	Execute(ctx context.Context, sql string, params ...any) (*driver.Result, error)
	BeginTransaction(ctx context.Context, opts driver.TxOptions) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Release() error
}

// ConnectionSource lends connections to transactions.
type ConnectionSource interface {
	Acquire(ctx context.Context, poolID string) (Conn, error)
}

type poolSource struct {
	m *pool.Manager
}

// FromPool lends connections from a pool manager using its retry policy.
func FromPool(m *pool.Manager) ConnectionSource {
	return poolSource{m: m}
}

func (s poolSource) Acquire(ctx context.Context, poolID string) (Conn, error) {
	c, err := s.m.GetConnection(ctx, poolID, pool.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options describe one transaction. Zero fields take the manager defaults.
type Options struct {
	PoolID    string
	Isolation driver.IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// Statistics summarise every transaction the manager has run.
type Statistics struct {
	Started     int64         `json:"started"`
	Committed   int64         `json:"committed"`
	RolledBack  int64         `json:"rolled_back"`
	Failed      int64         `json:"failed"`
	TimedOut    int64         `json:"timed_out"`
	Retries     int64         `json:"retries"`
	Active      int           `json:"active"`
	AvgDuration time.Duration `json:"avg_duration"`
}

type counters struct {
	started, committed, rolledBack, failed, timedOut, retries atomic.Int64
	completed, durationNanos                                  atomic.Int64
}

// Manager begins, tracks and finishes transactions.
type Manager struct {
	source ConnectionSource
	log    logger.Logger
	pub    event.Publisher
	policy retry.Policy

	defaultPool      string
	defaultTimeout   time.Duration
	defaultIsolation driver.IsolationLevel

	mu     sync.RWMutex
	active map[string]*Transaction
	stats  counters
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPublisher sends transaction.* events to pub.
func WithPublisher(pub event.Publisher) Option {
	return func(m *Manager) { m.pub = pub }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithDefaults sets the pool, timeout and isolation used when Options leave them empty.
func WithDefaults(poolID string, timeout time.Duration, isolation driver.IsolationLevel) Option {
	return func(m *Manager) {
		m.defaultPool = poolID
		m.defaultTimeout = timeout
		m.defaultIsolation = isolation
	}
}

// NewManager returns a manager borrowing connections from source.
func NewManager(source ConnectionSource, opts ...Option) *Manager {
	m := &Manager{
		source:         source,
		log:            logger.NewNop(),
		pub:            event.Nop,
		policy:         retry.DefaultPolicy(),
		defaultTimeout: DefaultTimeout,
		active:         make(map[string]*Transaction),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(map[string]any{"component": "transaction"})
	return m
}

func (m *Manager) publish(tx *Transaction, e event.Event) {
	e.PoolID = tx.poolID
	e.TxID = tx.id
	m.pub.Publish(event.Stamp(e))
}

func (m *Manager) withDefaults(opts Options) Options {
	if opts.PoolID == "" {
		opts.PoolID = m.defaultPool
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.defaultTimeout
	}
	if opts.Isolation == driver.IsolationDefault {
		opts.Isolation = m.defaultIsolation
	}
	return opts
}

// BeginTransaction borrows a connection, begins a transaction on it and arms
// the timeout timer. When the timer fires, or ctx ends, while the transaction
// is still active it is rolled back automatically.
func (m *Manager) BeginTransaction(ctx context.Context, opts Options) (*Transaction, error) {
	opts = m.withDefaults(opts)
	tx := &Transaction{
		id:     uuid.NewString(),
		poolID: opts.PoolID,
		opts:   opts,
		mgr:    m,
		done:   make(chan struct{}),
	}
	tx.setState(StateStarting)

	fail := func(err error) (*Transaction, error) {
		tx.setState(StateFailed)
		m.stats.failed.Add(1)
		m.publish(tx, event.Event{Type: event.TxError, Err: err})
		m.log.Warn("transaction %s: begin on pool %q failed: %v", tx.id, opts.PoolID, err)
		return nil, &dberr.TransactionBeginError{PoolID: opts.PoolID, Err: err}
	}

	conn, err := m.source.Acquire(ctx, opts.PoolID)
	if err != nil {
		return fail(err)
	}

	// The transaction context lives as long as the transaction: database/sql
	// aborts a transaction whose begin context is cancelled.
	txCtx, cancel := context.WithCancelCause(ctx)
	if err := conn.BeginTransaction(txCtx, driver.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}); err != nil {
		cancel(err)
		if rerr := conn.Release(); rerr != nil {
			m.log.Warn("transaction %s: releasing connection: %v", tx.id, rerr)
		}
		return fail(err)
	}

	tx.conn = conn
	tx.ctx, tx.cancel = txCtx, cancel
	tx.startedAt = time.Now()

	tx.setState(StateActive)
	m.stats.started.Add(1)
	m.publish(tx, event.Event{Type: event.TxStart})
	m.log.Debug("transaction %s started on pool %q (isolation %q, timeout %s)", tx.id, tx.poolID, opts.Isolation, opts.Timeout)

	tx.mu.Lock()
	tx.timer = time.AfterFunc(opts.Timeout, func() { cancel(dberr.ErrTransactionTimeout) })
	tx.stopWatch = context.AfterFunc(txCtx, func() { m.abort(tx) })
	tx.mu.Unlock()

	// Only now is the transaction visible to ForceRollbackAll. A timer or
	// cancellation that already finished it must not leave a stale entry.
	m.mu.Lock()
	if !tx.finishing.Load() {
		m.active[tx.id] = tx
	}
	m.mu.Unlock()
	return tx, nil
}

// Commit commits an ACTIVE transaction and releases its connection. If COMMIT
// fails the transaction is FAILED, the connection is still released and a
// *dberr.TransactionCommitError is returned.
func (m *Manager) Commit(ctx context.Context, tx *Transaction) error {
	tx.stmtMu.Lock()
	defer tx.stmtMu.Unlock()
	if err := tx.checkActive(); err != nil {
		return err
	}
	if !tx.finishing.CompareAndSwap(false, true) {
		return tx.checkActive()
	}
	tx.disarm()
	tx.setState(StateCommitting)

	if err := tx.conn.Commit(ctx); err != nil {
		tx.setState(StateFailed)
		tx.setErr(err)
		m.stats.failed.Add(1)
		m.publish(tx, event.Event{Type: event.TxError, Err: err})
		m.log.Error("transaction %s: commit failed: %v", tx.id, err)
		m.finish(tx)
		return &dberr.TransactionCommitError{TxID: tx.id, Err: err}
	}

	tx.setState(StateCommitted)
	m.stats.committed.Add(1)
	m.publish(tx, event.Event{Type: event.TxCommit, Duration: tx.Duration()})
	m.finish(tx)
	return nil
}

// Rollback rolls back a transaction and releases its connection. It is a
// no-op on a transaction that is already finishing or finished, so racing
// the timeout timer or calling it twice is safe. A failing ROLLBACK statement
// is logged and recorded in tx.Err rather than returned, so it never masks
// the error that caused the rollback.
func (m *Manager) Rollback(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return dberr.ErrTransactionNotActive
	}
	if !tx.finishing.CompareAndSwap(false, true) {
		m.log.Debug("transaction %s: rollback ignored, already %s", tx.id, tx.State())
		return nil
	}
	m.rollback(ctx, tx, nil)
	return nil
}

// abort rolls back a transaction whose context ended: its timer fired or the
// caller's context was cancelled.
func (m *Manager) abort(tx *Transaction) {
	if !tx.finishing.CompareAndSwap(false, true) {
		return
	}
	m.rollback(context.Background(), tx, context.Cause(tx.ctx))
}

func (m *Manager) rollback(ctx context.Context, tx *Transaction, cause error) {
	tx.disarm()
	if cause != nil {
		// cancel in-flight statements before waiting for them
		tx.cancel(cause)
		tx.setErr(cause)
	}

	tx.stmtMu.Lock()
	defer tx.stmtMu.Unlock()

	if err := tx.conn.Rollback(context.WithoutCancel(ctx)); err != nil {
		tx.setErr(err)
		m.publish(tx, event.Event{Type: event.TxError, Err: err})
		m.log.Error("transaction %s: rollback failed: %v", tx.id, err)
	}
	tx.setState(StateRolledBack)
	m.stats.rolledBack.Add(1)

	if errors.Is(cause, dberr.ErrTransactionTimeout) {
		m.stats.timedOut.Add(1)
		m.publish(tx, event.Event{Type: event.TxTimeout, Duration: tx.Duration(), Err: cause})
		m.log.Warn("transaction %s timed out after %s and was rolled back", tx.id, tx.opts.Timeout)
	} else if cause != nil {
		m.log.Warn("transaction %s rolled back: %v", tx.id, cause)
	}
	m.publish(tx, event.Event{Type: event.TxRollback, Duration: tx.Duration(), Err: cause})
	m.finish(tx)
}

// finish releases the connection and retires the transaction. Callers hold stmtMu.
func (m *Manager) finish(tx *Transaction) {
	if err := tx.conn.Release(); err != nil {
		m.log.Warn("transaction %s: releasing connection: %v", tx.id, err)
	}
	tx.cancel(nil)

	tx.mu.Lock()
	tx.endedAt = time.Now()
	tx.mu.Unlock()
	d := tx.Duration()

	m.mu.Lock()
	delete(m.active, tx.id)
	m.mu.Unlock()

	m.stats.completed.Add(1)
	m.stats.durationNanos.Add(int64(d))
	m.publish(tx, event.Event{Type: event.TxComplete, Duration: d, Err: tx.Err()})
	close(tx.done)
}

// ExecuteInTransaction runs fn in a new transaction, committing when it
// returns nil and rolling back otherwise. Attempts failing with a transient
// error (deadlock, lock wait timeout, serialization failure, lost
// connection) are retried with backoff, so fn may run more than once. A
// panic in fn rolls back and is re-raised.
func (m *Manager) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) (any, error), opts Options) (any, error) {
	return Run(ctx, m, fn, opts)
}

// Atomic is ExecuteInTransaction.
func (m *Manager) Atomic(ctx context.Context, fn func(ctx context.Context, tx *Transaction) (any, error), opts Options) (any, error) {
	return Run(ctx, m, fn, opts)
}

// ExecuteBatchInTransaction runs ops in order inside one transaction and
// returns their results. The first failure aborts the whole batch.
func (m *Manager) ExecuteBatchInTransaction(ctx context.Context, ops []func(ctx context.Context, tx *Transaction) (any, error), opts Options) ([]any, error) {
	return Run(ctx, m, func(ctx context.Context, tx *Transaction) ([]any, error) {
		results := make([]any, 0, len(ops))
		for i, op := range ops {
			r, err := op(ctx, tx)
			if err != nil {
				return nil, fmt.Errorf("batch operation %d: %w", i, err)
			}
			results = append(results, r)
		}
		return results, nil
	}, opts)
}

// Run is the typed form of ExecuteInTransaction. Failures are returned as
// *dberr.TransactionExecutionError.
func Run[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, tx *Transaction) (T, error), opts Options) (T, error) {
	opts = m.withDefaults(opts)
	var lastTx string
	onRetry := func(attempt int, err error, delay time.Duration) {
		m.stats.retries.Add(1)
		m.log.Warn("transaction %s: attempt %d failed, retrying in %s: %v", lastTx, attempt, delay, err)
	}

	res, attempts, err := retry.Do(ctx, m.policy, retry.IsTransactionError, onRetry, func(int) (T, error) {
		tx, err := m.BeginTransaction(ctx, opts)
		if err != nil {
			var zero T
			return zero, err
		}
		lastTx = tx.ID()
		return runAttempt(ctx, m, tx, fn)
	})
	if err != nil {
		return res, &dberr.TransactionExecutionError{PoolID: opts.PoolID, TxID: lastTx, Attempts: attempts, Err: err}
	}
	return res, nil
}

func runAttempt[T any](ctx context.Context, m *Manager, tx *Transaction, fn func(ctx context.Context, tx *Transaction) (T, error)) (T, error) {
	var zero T
	defer func() {
		if r := recover(); r != nil {
			_ = m.Rollback(ctx, tx)
			panic(r)
		}
	}()

	res, err := fn(ctx, tx)
	if err != nil {
		_ = m.Rollback(ctx, tx)
		return zero, err
	}
	if err := m.Commit(ctx, tx); err != nil {
		return zero, err
	}
	return res, nil
}

// ForceRollbackAll rolls back every active transaction and returns how many
// it rolled back. Failures are logged, never returned.
func (m *Manager) ForceRollbackAll(ctx context.Context) int {
	m.mu.RLock()
	txs := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		txs = append(txs, tx)
	}
	m.mu.RUnlock()

	n := 0
	for _, tx := range txs {
		if !tx.finishing.CompareAndSwap(false, true) {
			continue
		}
		m.rollback(ctx, tx, ErrForcedRollback)
		n++
	}
	if n > 0 {
		m.log.Warn("force rolled back %d active transaction(s)", n)
	}
	return n
}

// GetActiveTransactions snapshots the active transactions, oldest first.
func (m *Manager) GetActiveTransactions() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.active))
	for _, tx := range m.active {
		out = append(out, tx.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// FindTransaction returns the active transaction with the given ID.
func (m *Manager) FindTransaction(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.active[id]
	return tx, ok
}

func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	active := len(m.active)
	m.mu.RUnlock()

	s := Statistics{
		Started:    m.stats.started.Load(),
		Committed:  m.stats.committed.Load(),
		RolledBack: m.stats.rolledBack.Load(),
		Failed:     m.stats.failed.Load(),
		TimedOut:   m.stats.timedOut.Load(),
		Retries:    m.stats.retries.Load(),
		Active:     active,
	}
	if n := m.stats.completed.Load(); n > 0 {
		s.AvgDuration = time.Duration(m.stats.durationNanos.Load() / n)
	}
	return s
}
