package dialect

import "strconv"

// PostgreSQL dialect implementation, shared by the lib/pq, pgx and pgxpool drivers
type postgres struct{}

func (d *postgres) Name() string      { return "postgres" }
func (d *postgres) Delimiter() string { return `"` }

func (d *postgres) Quote(name string) string {
	// PostgreSQL uses double quotes for identifiers
	return quoteWith(`"`, name)
}

func (d *postgres) Placeholder(index int) string {
	// PostgreSQL uses $1, $2, $3... for placeholders
	return "$" + strconv.Itoa(index)
}

func (d *postgres) LockClause(mode LockMode) string {
	switch mode {
	case LockForUpdate:
		return "FOR UPDATE"
	case LockForShare:
		return "FOR SHARE"
	default:
		return ""
	}
}

func (d *postgres) SupportsReturning() bool { return true }
