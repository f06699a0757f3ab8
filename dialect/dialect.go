package dialect

import (
	"sort"
	"strings"
	"sync"
)

// LockMode selects the row-locking clause appended to a SELECT.
type LockMode int

const (
	LockNone LockMode = iota
	LockForUpdate
	LockForShare
)

// Dialect represents the database-specific parts of SQL generation that the
// query builder needs: identifier quoting, placeholder style, row locking and
// RETURNING support. Each database must implement this interface to be supported.
type Dialect interface {
	// Name returns the registry name of the dialect
	Name() string
	// Delimiter returns the identifier delimiter, e.g. "`" or `"`
	Delimiter() string
	// Quote wraps a single identifier in database-specific quotes, doubling
	// any embedded delimiter
	Quote(name string) string
	// Placeholder returns the bind placeholder for the 1-based parameter index
	Placeholder(index int) string
	// LockClause returns the row-locking suffix for mode, or "" if unsupported
	LockClause(mode LockMode) string
	// SupportsReturning reports whether INSERT/UPDATE/DELETE accept RETURNING
	SupportsReturning() bool
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

func init() {
	Register("mysql", &mysql{})
	pg := &postgres{}
	Register("postgres", pg)
	Register("pgx", pg)
	Register("pgxpool", pg)
	lite := &sqlite{}
	Register("sqlite3", lite)
	Register("sqlite", lite)
	Register("generic", Default())
}

// Register registers a new dialect for a given driver name
func Register(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// Get retrieves a registered dialect by driver name
func Get(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}

// ForDriver returns the dialect registered for a driver, falling back to the generic one.
func ForDriver(name string) Dialect {
	if d, ok := Get(name); ok {
		return d
	}
	return Default()
}

// Names lists the registered dialect names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func quoteWith(delim, name string) string {
	if delim == "" {
		return name
	}
	closing := closingDelimiter(delim)
	return delim + strings.ReplaceAll(name, closing, closing+closing) + closing
}

func closingDelimiter(delim string) string {
	if delim == "[" {
		return "]"
	}
	return delim
}
