package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/query"
	"github.com/Aeglx/WeDrawOS-sub006/transaction"
)

// Run builds b and executes it on poolID through the middleware chain.
func (db *DB) Run(ctx context.Context, poolID string, b *query.Builder) (*driver.Result, error) {
	sqlStr, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	opts := pool.QueryOptions{Mode: pool.ModeExec}
	if b.ReturnsRows() {
		opts.Mode = pool.ModeQuery
	}
	return db.pools.ExecuteQuery(ctx, poolID, sqlStr, params, opts)
}

// RunInTx builds b and executes it inside tx.
func (db *DB) RunInTx(ctx context.Context, tx *transaction.Transaction, b *query.Builder) (*driver.Result, error) {
	sqlStr, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	if b.ReturnsRows() {
		return tx.Query(ctx, sqlStr, params...)
	}
	return tx.Execute(ctx, sqlStr, params...)
}

// Page is one page of a paginated SELECT.
type Page struct {
	Rows  []map[string]any `json:"rows"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Size  int              `json:"size"`
	Pages int              `json:"pages"`
}

// Paginate runs a COUNT of b and then fetches the requested page. b itself is
// left untouched.
func (db *DB) Paginate(ctx context.Context, poolID string, b *query.Builder, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	res, err := db.Run(ctx, poolID, b.Clone().Count(""))
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	var total int64
	if len(res.Rows) > 0 {
		if total, err = toInt64(res.Rows[0]["count"]); err != nil {
			return nil, err
		}
	}

	rows, err := db.Run(ctx, poolID, b.Clone().Paginate(page, size))
	if err != nil {
		return nil, err
	}
	p := &Page{Rows: rows.Rows, Total: total, Page: page, Size: size}
	if size > 0 {
		p.Pages = int((total + int64(size) - 1) / int64(size))
	}
	return p, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
