package dialect

// SQLite dialect implementation, used for both mattn/go-sqlite3 and modernc.org/sqlite
type sqlite struct{}

func (d *sqlite) Name() string      { return "sqlite" }
func (d *sqlite) Delimiter() string { return "`" }

func (d *sqlite) Quote(name string) string {
	return quoteWith("`", name)
}

func (d *sqlite) Placeholder(index int) string {
	return "?"
}

// SQLite locks the whole database file; there is no row-level lock clause.
func (d *sqlite) LockClause(mode LockMode) string { return "" }

// RETURNING is available since SQLite 3.35.
func (d *sqlite) SupportsReturning() bool { return true }
