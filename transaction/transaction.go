package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
)

// Transaction is a unit of work on one borrowed connection. Statements are
// serialised in submission order. Once the transaction reaches a terminal
// state its connection has been released and every method fails with
// dberr.ErrTransactionNotActive.
type Transaction struct {
	id     string
	poolID string
	opts   Options
	mgr    *Manager
	conn   Conn

	state     atomic.Int32
	finishing atomic.Bool

	// stmtMu serialises statements and the final COMMIT or ROLLBACK.
	stmtMu     sync.Mutex
	ctx        context.Context
	cancel     context.CancelCauseFunc
	statements atomic.Int64

	startedAt time.Time
	done      chan struct{}

	mu        sync.Mutex
	timer     *time.Timer
	stopWatch func() bool
	endedAt   time.Time
	err       error
}

func (tx *Transaction) ID() string            { return tx.id }
func (tx *Transaction) PoolID() string        { return tx.poolID }
func (tx *Transaction) State() State          { return State(tx.state.Load()) }
func (tx *Transaction) StartedAt() time.Time  { return tx.startedAt }
func (tx *Transaction) Done() <-chan struct{} { return tx.done }

func (tx *Transaction) setState(s State) { tx.state.Store(int32(s)) }

// Err returns why the transaction ended other than by an explicit commit or
// rollback: dberr.ErrTransactionTimeout, the caller's context error, a
// commit failure or a failed ROLLBACK statement.
func (tx *Transaction) Err() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.err
}

func (tx *Transaction) setErr(err error) {
	if err == nil {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.err == nil {
		tx.err = err
	} else {
		tx.err = errors.Join(tx.err, err)
	}
}

// Duration returns how long the transaction ran, or has been running.
func (tx *Transaction) Duration() time.Duration {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.endedAt.IsZero() {
		return time.Since(tx.startedAt)
	}
	return tx.endedAt.Sub(tx.startedAt)
}

// Query runs a statement that returns rows inside the transaction.
func (tx *Transaction) Query(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	return tx.run(ctx, func(ctx context.Context) (*driver.Result, error) {
		return tx.conn.Query(ctx, sql, params...)
	})
}

// Execute runs a statement that does not return rows inside the transaction.
func (tx *Transaction) Execute(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	return tx.run(ctx, func(ctx context.Context) (*driver.Result, error) {
		return tx.conn.Execute(ctx, sql, params...)
	})
}

// Commit commits through the owning manager.
func (tx *Transaction) Commit(ctx context.Context) error { return tx.mgr.Commit(ctx, tx) }

// Rollback rolls back through the owning manager.
func (tx *Transaction) Rollback(ctx context.Context) error { return tx.mgr.Rollback(ctx, tx) }

func (tx *Transaction) run(ctx context.Context, fn func(ctx context.Context) (*driver.Result, error)) (*driver.Result, error) {
	tx.stmtMu.Lock()
	defer tx.stmtMu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}

	// statements end when either the caller's context or the transaction ends
	sctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(tx.ctx, func() { cancel(context.Cause(tx.ctx)) })
	defer func() {
		stop()
		cancel(nil)
	}()

	res, err := fn(sctx)
	tx.statements.Add(1)
	if err != nil && errors.Is(context.Cause(tx.ctx), dberr.ErrTransactionTimeout) {
		return nil, fmt.Errorf("transaction %s: %w: %w", tx.id, dberr.ErrTransactionTimeout, err)
	}
	return res, err
}

func (tx *Transaction) checkActive() error {
	if tx.State() == StateActive && !tx.finishing.Load() {
		return nil
	}
	if errors.Is(context.Cause(tx.ctx), dberr.ErrTransactionTimeout) {
		return fmt.Errorf("transaction %s: %w: %w", tx.id, dberr.ErrTransactionNotActive, dberr.ErrTransactionTimeout)
	}
	return fmt.Errorf("transaction %s is %s: %w", tx.id, tx.State(), dberr.ErrTransactionNotActive)
}

// disarm stops the timeout timer and the context watcher.
func (tx *Transaction) disarm() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.timer != nil {
		tx.timer.Stop()
	}
	if tx.stopWatch != nil {
		tx.stopWatch()
	}
}

// Info is a read-only snapshot of a transaction.
type Info struct {
	ID         string                `json:"id"`
	PoolID     string                `json:"pool_id"`
	State      State                 `json:"state"`
	Isolation  driver.IsolationLevel `json:"isolation,omitempty"`
	ReadOnly   bool                  `json:"read_only,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	Age        time.Duration         `json:"age"`
	Timeout    time.Duration         `json:"timeout"`
	Statements int64                 `json:"statements"`
}

// Info snapshots the transaction.
func (tx *Transaction) Info() Info {
	return Info{
		ID:         tx.id,
		PoolID:     tx.poolID,
		State:      tx.State(),
		Isolation:  tx.opts.Isolation,
		ReadOnly:   tx.opts.ReadOnly,
		StartedAt:  tx.startedAt,
		Age:        tx.Duration(),
		Timeout:    tx.opts.Timeout,
		Statements: tx.statements.Load(),
	}
}
