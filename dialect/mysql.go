package dialect

// MySQL dialect implementation
type mysql struct{}

func (d *mysql) Name() string      { return "mysql" }
func (d *mysql) Delimiter() string { return "`" }

func (d *mysql) Quote(name string) string {
	return quoteWith("`", name)
}

func (d *mysql) Placeholder(index int) string {
	return "?"
}

func (d *mysql) LockClause(mode LockMode) string {
	switch mode {
	case LockForUpdate:
		return "FOR UPDATE"
	case LockForShare:
		// LOCK IN SHARE MODE is accepted by every MySQL and MariaDB version
		return "LOCK IN SHARE MODE"
	default:
		return ""
	}
}

func (d *mysql) SupportsReturning() bool { return false }
