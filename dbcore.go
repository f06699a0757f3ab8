// Package dbcore is a database access core: a dialect-aware query builder,
// named connection pools with retry, and managed transactions with timeouts
// and lifecycle events.
//
// Most programs need only this package:
//
//	cfg, err := dbcore.LoadConfig("dbcore.yaml")
//	db, err := dbcore.Open(ctx, cfg)
//	defer db.Close(ctx)
//
//	b, _ := db.Builder("main")
//	res, err := db.Run(ctx, "main", b.Table("users").Where("active", true))
package dbcore

import (
	"github.com/Aeglx/WeDrawOS-sub006/config"
	"github.com/Aeglx/WeDrawOS-sub006/core"
	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/query"
	"github.com/Aeglx/WeDrawOS-sub006/transaction"
)

// Re-export core types and functions
type (
	DB     = core.DB
	Option = core.Option
	Page   = core.Page
	Config = config.Config
)

var (
	Open            = core.Open
	LoadConfig      = config.Load
	DefaultConfig   = config.Default
	WithLogger      = core.WithLogger
	WithConnector   = core.WithConnector
	WithMiddleware  = core.WithMiddleware
	WithObserver    = core.WithObserver
	WithRegisterer  = core.WithRegisterer
	WithTracer      = core.WithTracer
	WithRedisClient = core.WithRedisClient
	NewQuery        = query.New
	AllOf           = query.AllOf
	AnyOf           = query.AnyOf
)

// Re-export transaction types
type (
	Tx        = transaction.Transaction
	TxOptions = transaction.Options
)

// Re-export errors
type (
	PoolInitError              = dberr.PoolInitError
	PoolNotFoundError          = dberr.PoolNotFoundError
	ConnectionAcquisitionError = dberr.ConnectionAcquisitionError
	QueryBuildError            = dberr.QueryBuildError
	QueryExecutionError        = dberr.QueryExecutionError
	TransactionBeginError      = dberr.TransactionBeginError
	TransactionCommitError     = dberr.TransactionCommitError
	TransactionExecutionError  = dberr.TransactionExecutionError
)

var (
	ErrPoolClosed           = dberr.ErrPoolClosed
	ErrConnReleased         = dberr.ErrConnReleased
	ErrTransactionNotActive = dberr.ErrTransactionNotActive
	ErrTransactionTimeout   = dberr.ErrTransactionTimeout
	ErrBuilderFrozen        = dberr.ErrBuilderFrozen
	ErrInvalidQuery         = dberr.ErrInvalidQuery
	ErrUnknownDriver        = dberr.ErrUnknownDriver
)

