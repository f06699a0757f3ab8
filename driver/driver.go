// Package driver defines the minimal connection capability set the pool and
// transaction managers need, and adapts concrete database clients to it.
//
// A Driver is selected by name at configuration time and opens a Connector.
// A Connector produces Conns, one per physical (or backend-pooled) connection.
// Backend-specific pooling, such as pgxpool or a host *sql.DB, lives behind
// the Connector.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/dialect"
)

var (
	// ErrNoTransaction is returned by Commit and Rollback on a connection with no open transaction.
	ErrNoTransaction = errors.New("no transaction in progress")
	// ErrTxInProgress is returned by BeginTransaction when a transaction is already open.
	ErrTxInProgress = errors.New("transaction already in progress")
)

// Result is the outcome of a statement. Query fills Columns and Rows;
// Execute fills RowsAffected and, where the backend reports it, LastInsertID.
type Result struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	LastInsertID int64            `json:"last_insert_id,omitempty"`
}

// TxOptions are applied when a transaction begins.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Conn is a single connection. It is not safe for concurrent use; the pool
// hands each Conn to one caller at a time.
type Conn interface {
	Query(ctx context.Context, sql string, params ...any) (*Result, error)
	Execute(ctx context.Context, sql string, params ...any) (*Result, error)
	// BeginTransaction starts a transaction; until Commit or Rollback every
	// Query and Execute runs inside it. The transaction may be aborted by the
	// backend when ctx is cancelled.
	BeginTransaction(ctx context.Context, opts TxOptions) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Connector opens connections to one database.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
	// Dialect returns the SQL dialect of the database behind this connector.
	Dialect() dialect.Dialect
	Close() error
}

// Driver opens connectors for a configuration.
type Driver interface {
	Name() string
	Open(ctx context.Context, cfg ConnConfig) (Connector, error)
}

var (
	mu      sync.RWMutex
	drivers = make(map[string]Driver)
)

// Register makes a driver available by name. Registering a name twice replaces the first.
func Register(d Driver) {
	mu.Lock()
	defer mu.Unlock()
	drivers[d.Name()] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens a connector with the driver named by cfg.Driver.
func Open(ctx context.Context, cfg ConnConfig) (Connector, error) {
	d, ok := Lookup(strings.ToLower(cfg.Driver))
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", dberr.ErrUnknownDriver, cfg.Driver, strings.Join(Drivers(), ", "))
	}
	return d.Open(ctx, cfg)
}
