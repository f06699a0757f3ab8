// Package fakedb is an in-memory driver.Connector used by tests. It records
// every statement, including BEGIN, COMMIT and ROLLBACK, and lets a test
// script failures and result sets.
package fakedb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/dialect"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
)

// DB is a fake database. The zero value is not usable; call New.
type DB struct {
	dialect dialect.Dialect

	mu          sync.Mutex
	connectErrs []error
	fail        func(sql string) error
	rows        func(sql string, params []any) *driver.Result
	pingErr     error
	delay       time.Duration
	stmts       []string

	Connects  atomic.Int64
	Closes    atomic.Int64
	Begins    atomic.Int64
	Commits   atomic.Int64
	Rollbacks atomic.Int64
	open      atomic.Int64
	closed    atomic.Bool
}

// New returns a fake database speaking the given dialect ("sqlite" when empty).
func New(dialectName string) *DB {
	if dialectName == "" {
		dialectName = "sqlite"
	}
	return &DB{dialect: dialect.ForDriver(dialectName)}
}

// FailConnect makes the next len(errs) Connect calls fail in order.
func (d *DB) FailConnect(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErrs = append(d.connectErrs, errs...)
}

// FailOn installs a hook consulted before every statement; a non-nil return fails it.
func (d *DB) FailOn(fn func(sql string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fn
}

// OnQuery sets the result returned by Query. By default Query returns one row {"n": 1}.
func (d *DB) OnQuery(fn func(sql string, params []any) *driver.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = fn
}

// FailPing makes Ping return err; nil restores it.
func (d *DB) FailPing(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErr = err
}

// SetDelay makes every Query and Execute take d, or until its context is done.
// BEGIN, COMMIT and ROLLBACK are not delayed.
func (d *DB) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Statements returns every statement seen so far.
func (d *DB) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stmts...)
}

// Count returns how many times sql was issued.
func (d *DB) Count(sql string) int {
	n := 0
	for _, s := range d.Statements() {
		if s == sql {
			n++
		}
	}
	return n
}

// Open returns the number of connections currently open.
func (d *DB) Open() int64 { return d.open.Load() }

// ConnectorClosed reports whether Close was called on the connector.
func (d *DB) ConnectorClosed() bool { return d.closed.Load() }

func (d *DB) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()
	d.Connects.Add(1)
	d.open.Add(1)
	return &conn{db: d}, nil
}

func (d *DB) Dialect() dialect.Dialect { return d.dialect }

func (d *DB) Close() error {
	d.closed.Store(true)
	return nil
}

// record logs sql and applies the scripted delay and failure hook.
func (d *DB) record(ctx context.Context, sql string) error {
	return d.recordDelayed(ctx, sql, true)
}

func (d *DB) recordDelayed(ctx context.Context, sql string, delayed bool) error {
	d.mu.Lock()
	d.stmts = append(d.stmts, sql)
	fail, delay := d.fail, d.delay
	d.mu.Unlock()

	if delayed && delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return fail(sql)
	}
	return nil
}

type conn struct {
	db     *DB
	inTx   bool
	closed bool
}

var errClosed = errors.New("fakedb: connection closed")

func (c *conn) Query(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	if c.closed {
		return nil, errClosed
	}
	if err := c.db.record(ctx, sql); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	rows := c.db.rows
	c.db.mu.Unlock()
	if rows != nil {
		if res := rows(sql, params); res != nil {
			return res, nil
		}
	}
	return &driver.Result{Columns: []string{"n"}, Rows: []map[string]any{{"n": int64(1)}}}, nil
}

func (c *conn) Execute(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	if c.closed {
		return nil, errClosed
	}
	if err := c.db.record(ctx, sql); err != nil {
		return nil, err
	}
	res := &driver.Result{RowsAffected: 1}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "INSERT") {
		res.LastInsertID = 1
	}
	return res, nil
}

func (c *conn) BeginTransaction(ctx context.Context, opts driver.TxOptions) error {
	if c.inTx {
		return driver.ErrTxInProgress
	}
	stmt := "BEGIN"
	if opts.Isolation != driver.IsolationDefault {
		stmt += " ISOLATION LEVEL " + string(opts.Isolation)
	}
	if err := c.db.recordDelayed(ctx, stmt, false); err != nil {
		return err
	}
	c.inTx = true
	c.db.Begins.Add(1)
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if !c.inTx {
		return driver.ErrNoTransaction
	}
	c.inTx = false
	if err := c.db.recordDelayed(ctx, "COMMIT", false); err != nil {
		return err
	}
	c.db.Commits.Add(1)
	return nil
}

func (c *conn) Rollback(ctx context.Context) error {
	if !c.inTx {
		return driver.ErrNoTransaction
	}
	c.inTx = false
	c.db.Rollbacks.Add(1)
	return c.db.recordDelayed(context.WithoutCancel(ctx), "ROLLBACK", false)
}

func (c *conn) Ping(ctx context.Context) error {
	c.db.mu.Lock()
	err := c.db.pingErr
	c.db.mu.Unlock()
	return err
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.db.Closes.Add(1)
	c.db.open.Add(-1)
	return nil
}
