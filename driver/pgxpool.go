package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aeglx/WeDrawOS-sub006/dialect"
)

func init() {
	Register(pgxPoolDriver{})
}

// pgxPoolDriver talks to PostgreSQL through a native pgxpool.Pool. Conns
// acquired from it are returned to pgxpool on Close.
type pgxPoolDriver struct{}

func (pgxPoolDriver) Name() string { return "pgxpool" }

func (pgxPoolDriver) Open(ctx context.Context, cfg ConnConfig) (Connector, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config for %s: %w", cfg, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool for %s: %w", cfg, err)
	}
	return &pgxConnector{pool: pool, owned: true}, nil
}

// FromPgxPool adapts a host-owned pgxpool.Pool. Closing the connector leaves the pool open.
func FromPgxPool(pool *pgxpool.Pool) Connector {
	return &pgxConnector{pool: pool}
}

type pgxConnector struct {
	pool  *pgxpool.Pool
	owned bool
}

func (c *pgxConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

func (c *pgxConnector) Dialect() dialect.Dialect {
	return dialect.ForDriver("pgxpool")
}

func (c *pgxConnector) Close() error {
	if c.owned {
		c.pool.Close()
	}
	return nil
}

type pgxConn struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

func (c *pgxConn) Query(ctx context.Context, sql string, params ...any) (*Result, error) {
	var rows pgx.Rows
	var err error
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, sql, params...)
	} else {
		rows, err = c.conn.Query(ctx, sql, params...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	out := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pgxConn) Execute(ctx context.Context, sql string, params ...any) (*Result, error) {
	var rowsAffected int64
	if c.tx != nil {
		tag, err := c.tx.Exec(ctx, sql, params...)
		if err != nil {
			return nil, err
		}
		rowsAffected = tag.RowsAffected()
	} else {
		tag, err := c.conn.Exec(ctx, sql, params...)
		if err != nil {
			return nil, err
		}
		rowsAffected = tag.RowsAffected()
	}
	return &Result{RowsAffected: rowsAffected}, nil
}

func (c *pgxConn) BeginTransaction(ctx context.Context, opts TxOptions) error {
	if c.tx != nil {
		return ErrTxInProgress
	}
	txOpts := pgx.TxOptions{IsoLevel: opts.Isolation.pgxLevel()}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *pgxConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (c *pgxConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) Close() error {
	if c.tx != nil {
		_ = c.tx.Rollback(context.Background())
		c.tx = nil
	}
	c.conn.Release()
	return nil
}
