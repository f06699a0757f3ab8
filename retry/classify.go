package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
)

// Connection error codes treated as transient.
const (
	CodeConnRefused     = "ECONNREFUSED"
	CodeConnReset       = "ECONNRESET"
	CodeTimeout         = "ETIMEDOUT"
	CodeConnLost        = "PROTOCOL_CONNECTION_LOST"
	CodeTooManyConns    = "ER_CON_COUNT_ERROR"
	CodeAcquireTimeout  = "POOL_ACQUIRE_TIMEOUT"
	sqlstateTooManyConn = "53300"
	sqlstateSerialize   = "40001"
	sqlstateDeadlock    = "40P01"
	mysqlTooManyConns   = 1040
	mysqlLockWait       = 1205
	mysqlDeadlock       = 1213
)

var connectionCodes = map[string]bool{
	CodeConnRefused:    true,
	CodeConnReset:      true,
	CodeTimeout:        true,
	CodeConnLost:       true,
	CodeTooManyConns:   true,
	CodeAcquireTimeout: true,
}

// transactionMessages are matched case-insensitively against the error text.
var transactionMessages = []string{
	"deadlock",
	"lock wait timeout",
	"connection timeout",
	"connection lost",
	"serialization failure",
	"could not serialize access",
	"concurrent update",
}

// Code extracts a connection error code from err, or "" if it has none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var coder dberr.Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CodeConnReset
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, mysql.ErrInvalidConn):
		return CodeConnLost
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlTooManyConns {
		return CodeTooManyConns
	}
	if sqlState(err) == sqlstateTooManyConn {
		return CodeTooManyConns
	}
	return ""
}

// IsConnectionError reports whether err is a transient connection failure:
// its code is in the connection allow-list or its message mentions a timeout.
// Cancellation by the caller is never retryable.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if connectionCodes[Code(err)] {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsTransactionError reports whether a failed unit of work should be retried:
// deadlocks, lock wait timeouts, serialization failures, concurrent updates
// and lost or timed-out connections.
func IsTransactionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch sqlState(err) {
	case sqlstateSerialize, sqlstateDeadlock:
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWait) {
		return true
	}
	switch Code(err) {
	case CodeConnLost, CodeTimeout, CodeConnReset:
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transactionMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
