package dialect

import "strconv"

// Generic is a configurable dialect: identifiers are wrapped in Delim and
// placeholders are Prefix followed by the parameter index. An empty Prefix
// produces bare "?" placeholders.
type Generic struct {
	Delim     string
	Prefix    string
	Returning bool
}

// Default returns the generic dialect: backtick identifiers and $N placeholders.
func Default() Dialect {
	return &Generic{Delim: "`", Prefix: "$", Returning: true}
}

// New returns a generic dialect with the given delimiter and placeholder prefix.
func New(delim, prefix string) Dialect {
	return &Generic{Delim: delim, Prefix: prefix, Returning: true}
}

func (d *Generic) Name() string      { return "generic" }
func (d *Generic) Delimiter() string { return d.Delim }

func (d *Generic) Quote(name string) string {
	return quoteWith(d.Delim, name)
}

func (d *Generic) Placeholder(index int) string {
	if d.Prefix == "" || d.Prefix == "?" {
		return "?"
	}
	return d.Prefix + strconv.Itoa(index)
}

func (d *Generic) LockClause(mode LockMode) string {
	switch mode {
	case LockForUpdate:
		return "FOR UPDATE"
	case LockForShare:
		return "FOR SHARE"
	default:
		return ""
	}
}

func (d *Generic) SupportsReturning() bool { return d.Returning }
