package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/Aeglx/WeDrawOS-sub006/dialect"
)

func init() {
	Register(&sqlDriver{name: "mysql", sqlName: "mysql", dsn: ConnConfig.MySQLDSN})
	Register(&sqlDriver{name: "postgres", sqlName: "postgres", dsn: ConnConfig.PostgresURL})
	Register(&sqlDriver{name: "pgx", sqlName: "pgx", dsn: ConnConfig.PostgresURL})
	Register(&sqlDriver{name: "sqlite3", sqlName: "sqlite3", dsn: ConnConfig.SQLiteDSN})
	Register(&sqlDriver{name: "sqlite", sqlName: "sqlite", dsn: ConnConfig.SQLiteDSN})
}

// sqlDriver opens database/sql handles for a registered database/sql driver.
type sqlDriver struct {
	name    string
	sqlName string
	dsn     func(ConnConfig) string
}

func (d *sqlDriver) Name() string { return d.name }

func (d *sqlDriver) Open(ctx context.Context, cfg ConnConfig) (Connector, error) {
	db, err := sql.Open(d.sqlName, d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg, err)
	}
	// Connections are pooled by the caller; a connection closed there must
	// really close instead of idling inside database/sql.
	db.SetMaxIdleConns(0)
	return &sqlConnector{db: db, dialect: dialect.ForDriver(d.name), owned: true}, nil
}

// FromDB adapts a host-owned *sql.DB. Closing the connector leaves db open.
func FromDB(db *sql.DB, dialectName string) Connector {
	return &sqlConnector{db: db, dialect: dialect.ForDriver(dialectName)}
}

type sqlConnector struct {
	db      *sql.DB
	dialect dialect.Dialect
	owned   bool
}

func (c *sqlConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

func (c *sqlConnector) Dialect() dialect.Dialect { return c.dialect }

func (c *sqlConnector) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

// sqlConn wraps a dedicated *sql.Conn and, while a transaction is open, its *sql.Tx.
type sqlConn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *sqlConn) target() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *sqlConn) Query(ctx context.Context, query string, params ...any) (*Result, error) {
	rows, err := c.target().QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (c *sqlConn) Execute(ctx context.Context, query string, params ...any) (*Result, error) {
	res, err := c.target().ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	out := &Result{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

func (c *sqlConn) BeginTransaction(ctx context.Context, opts TxOptions) error {
	if c.tx != nil {
		return ErrTxInProgress
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.Isolation.sqlLevel(),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

// Rollback treats a transaction already aborted by database/sql, for example
// after its context was cancelled, as rolled back.
func (c *sqlConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *sqlConn) Close() error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.conn.Close()
}

func scanRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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

// normalize turns driver byte slices into strings so rows compare and print naturally.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
