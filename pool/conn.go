package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/dialect"
	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

// Conn is a connection checked out of a Pool. Every statement issued through
// it is timed and counted against the pool. A Conn is owned by one caller
// until Release.
type Conn struct {
	pool       *Pool
	raw        driver.Conn
	acquiredAt time.Time
	released   atomic.Bool
	broken     bool
	inTx       bool
}

// PoolID returns the ID of the pool the connection came from.
func (c *Conn) PoolID() string { return c.pool.id }

// Dialect returns the SQL dialect of the connection's database.
func (c *Conn) Dialect() dialect.Dialect { return c.pool.Dialect() }

func (c *Conn) Query(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	return c.run(ctx, sql, params, c.raw.Query)
}

func (c *Conn) Execute(ctx context.Context, sql string, params ...any) (*driver.Result, error) {
	return c.run(ctx, sql, params, c.raw.Execute)
}

func (c *Conn) run(ctx context.Context, sql string, params []any, fn func(context.Context, string, ...any) (*driver.Result, error)) (*driver.Result, error) {
	if c.released.Load() {
		return nil, dberr.ErrConnReleased
	}
	start := time.Now()
	res, err := fn(ctx, sql, params...)
	elapsed := time.Since(start)
	c.pool.recordQuery(elapsed, err)
	c.pool.log.SQL(sql, elapsed, params...)
	c.markBroken(err)
	return res, err
}

// markBroken flags connections the backend has dropped so Release closes them.
func (c *Conn) markBroken(err error) {
	switch retry.Code(err) {
	case retry.CodeConnLost, retry.CodeConnReset, retry.CodeConnRefused:
		c.broken = true
	}
}

func (c *Conn) BeginTransaction(ctx context.Context, opts driver.TxOptions) error {
	if c.released.Load() {
		return dberr.ErrConnReleased
	}
	start := time.Now()
	err := c.raw.BeginTransaction(ctx, opts)
	c.pool.log.SQL("BEGIN", time.Since(start))
	if err != nil {
		c.markBroken(err)
		return err
	}
	c.inTx = true
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.released.Load() {
		return dberr.ErrConnReleased
	}
	start := time.Now()
	err := c.raw.Commit(ctx)
	c.pool.log.SQL("COMMIT", time.Since(start))
	c.inTx = false
	c.markBroken(err)
	return err
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.released.Load() {
		return dberr.ErrConnReleased
	}
	start := time.Now()
	err := c.raw.Rollback(ctx)
	c.pool.log.SQL("ROLLBACK", time.Since(start))
	c.inTx = false
	c.markBroken(err)
	return err
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.released.Load() {
		return dberr.ErrConnReleased
	}
	err := c.raw.Ping(ctx)
	c.markBroken(err)
	return err
}

// Release returns the connection to the pool it came from. Calling it again
// is a no-op. A transaction left open is rolled back first; if that fails the
// connection is closed and the rollback error returned.
func (c *Conn) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.inTx {
		ctx, cancel := context.WithTimeout(context.Background(), c.pool.cfg.AcquireTimeout)
		err = c.raw.Rollback(ctx)
		cancel()
		c.inTx = false
		if err != nil {
			c.pool.log.Warn("rolling back abandoned transaction: %v", err)
			c.broken = true
		}
	}
	c.pool.release(c, c.broken)
	return err
}
