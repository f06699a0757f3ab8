package pool

import (
	"context"
	"strings"
	"time"

	"github.com/Aeglx/WeDrawOS-sub006/driver"
)

// Mode selects how ExecuteQuery runs a statement.
type Mode int

const (
	// ModeAuto queries when the statement returns rows and executes otherwise.
	ModeAuto Mode = iota
	ModeQuery
	ModeExec
)

// QueryOptions tune a single ExecuteQuery call.
type QueryOptions struct {
	Mode Mode
	// AcquireTimeout overrides the pool's wait for a free connection.
	AcquireTimeout time.Duration
	// Timeout bounds the statement itself.
	Timeout time.Duration
}

// Statement is a single-shot statement on its way through the middleware chain.
type Statement struct {
	PoolID      string
	SQL         string
	Params      []any
	ReturnsRows bool
	// Attempt is the 1-based attempt number under the retry policy.
	Attempt int
}

// QueryFunc is the next step in the middleware chain.
type QueryFunc func(ctx context.Context, stmt *Statement) (*driver.Result, error)

// QueryMiddleware intercepts statements run by Manager.ExecuteQuery.
type QueryMiddleware interface {
	Name() string
	Process(ctx context.Context, stmt *Statement, next QueryFunc) (*driver.Result, error)
}

func chain(mws []QueryMiddleware, final QueryFunc) QueryFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], final
		final = func(ctx context.Context, stmt *Statement) (*driver.Result, error) {
			return mw.Process(ctx, stmt, next)
		}
	}
	return final
}

var rowVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "SHOW": true, "PRAGMA": true,
	"EXPLAIN": true, "VALUES": true, "DESCRIBE": true, "DESC": true,
}

// ReturnsRows guesses from the leading keyword, or a RETURNING clause, whether
// sql produces a result set.
func ReturnsRows(sql string) bool {
	fields := strings.Fields(strings.TrimLeft(sql, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	if rowVerbs[strings.ToUpper(fields[0])] {
		return true
	}
	return strings.Contains(strings.ToUpper(sql), " RETURNING ")
}

func (o QueryOptions) returnsRows(sql string) bool {
	switch o.Mode {
	case ModeQuery:
		return true
	case ModeExec:
		return false
	}
	return ReturnsRows(sql)
}
