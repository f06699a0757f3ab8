// Package dberr defines the error taxonomy shared by the query builder, the
// connection pool manager and the transaction manager.
//
// Every typed error wraps the underlying driver error and can be unwrapped with
// errors.Is / errors.As. None of them carry SQL text or connection strings.
package dberr

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned when a pool has been closed or is being refreshed.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrConnReleased is returned when a released connection is used again.
	ErrConnReleased = errors.New("connection already released")
	// ErrTransactionNotActive is returned when a statement or commit targets a transaction that is not ACTIVE.
	ErrTransactionNotActive = errors.New("transaction is not active")
	// ErrTransactionTimeout is recorded on transactions rolled back by their timeout timer.
	ErrTransactionTimeout = errors.New("transaction timed out")
	// ErrBuilderFrozen is returned when a builder is mutated after Build; use Clone instead.
	ErrBuilderFrozen = errors.New("builder is frozen after Build")
	// ErrInvalidQuery is returned when a query is malformed or cannot be built.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUnknownDriver is returned when a pool config names an unregistered driver.
	ErrUnknownDriver = errors.New("unknown driver")
)

// PoolInitError is returned when a pool cannot be created or fails its connectivity test.
type PoolInitError struct {
	PoolID string
	Err    error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("pool %q: initialization failed: %v", e.PoolID, e.Err)
}

func (e *PoolInitError) Unwrap() error { return e.Err }

// PoolNotFoundError is returned when no pool is registered under PoolID.
type PoolNotFoundError struct {
	PoolID string
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("pool %q not found", e.PoolID)
}

// ConnectionAcquisitionError is returned when a connection could not be checked
// out of a pool after all retry attempts.
type ConnectionAcquisitionError struct {
	PoolID   string
	Attempts int
	Err      error
}

func (e *ConnectionAcquisitionError) Error() string {
	return fmt.Sprintf("pool %q: failed to acquire connection after %d attempt(s): %v", e.PoolID, e.Attempts, e.Err)
}

func (e *ConnectionAcquisitionError) Unwrap() error { return e.Err }

// QueryBuildError is returned by the query builder when the accumulated state
// cannot be turned into a statement.
type QueryBuildError struct {
	Reason string
	Err    error
}

func (e *QueryBuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query build failed: %s: %v", e.Reason, e.Err)
	}
	return "query build failed: " + e.Reason
}

func (e *QueryBuildError) Unwrap() error { return e.Err }

// Is reports every QueryBuildError as ErrInvalidQuery.
func (e *QueryBuildError) Is(target error) bool { return target == ErrInvalidQuery }

// QueryExecutionError is returned when a single-shot statement fails.
type QueryExecutionError struct {
	PoolID   string
	Attempts int
	Err      error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("pool %q: query execution failed: %v", e.PoolID, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// TransactionBeginError is returned when a transaction cannot be started.
type TransactionBeginError struct {
	PoolID string
	Err    error
}

func (e *TransactionBeginError) Error() string {
	return fmt.Sprintf("pool %q: begin transaction failed: %v", e.PoolID, e.Err)
}

func (e *TransactionBeginError) Unwrap() error { return e.Err }

// TransactionCommitError is returned when COMMIT fails. The transaction is FAILED
// and its connection has already been released.
type TransactionCommitError struct {
	TxID string
	Err  error
}

func (e *TransactionCommitError) Error() string {
	return fmt.Sprintf("transaction %s: commit failed: %v", e.TxID, e.Err)
}

func (e *TransactionCommitError) Unwrap() error { return e.Err }

// TransactionExecutionError is returned when a unit of work could not be
// completed. TxID is the last attempted transaction, if any was started.
type TransactionExecutionError struct {
	PoolID   string
	TxID     string
	Attempts int
	Err      error
}

func (e *TransactionExecutionError) Error() string {
	if e.TxID == "" {
		return fmt.Sprintf("pool %q: transaction failed after %d attempt(s): %v", e.PoolID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("pool %q: transaction %s failed after %d attempt(s): %v", e.PoolID, e.TxID, e.Attempts, e.Err)
}

func (e *TransactionExecutionError) Unwrap() error { return e.Err }

// Coder is implemented by errors that expose a driver-level error code, such as
// "ECONNREFUSED" or "ER_CON_COUNT_ERROR". Retry classification consults it.
type Coder interface {
	Code() string
}

// CodedError is a minimal Coder, used by drivers that only have a code and a message.
type CodedError struct {
	ErrCode string
	Message string
}

func (e *CodedError) Error() string { return e.ErrCode + ": " + e.Message }

// Code implements Coder.
func (e *CodedError) Code() string { return e.ErrCode }
