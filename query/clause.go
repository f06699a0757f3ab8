package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Aeglx/WeDrawOS-sub006/dialect"
)

// ClauseType identifies a SELECT clause. The constants are declared in
// assembly order.
type ClauseType int

const (
	SELECT ClauseType = iota
	FROM
	JOIN
	WHERE
	GROUPBY
	HAVING
	ORDERBY
	LIMIT
	OFFSET
	LOCK
)

var (
	selectClauses = []ClauseType{SELECT, FROM, JOIN, WHERE, GROUPBY, HAVING, ORDERBY, LIMIT, OFFSET, LOCK}
	// COUNT drops ordering, paging and locking.
	countClauses = []ClauseType{SELECT, FROM, JOIN, WHERE, GROUPBY, HAVING}
)

// writer accumulates SQL text and binds parameters as they are written, so
// placeholder indices always follow their position in the final statement.
type writer struct {
	strings.Builder
	params []any
	quote  func(string) string
	delim  string
	ph     func(int) string
}

func (w *writer) bind(v any) {
	w.params = append(w.params, v)
	w.WriteString(w.ph(len(w.params)))
}

// ident escapes an identifier or column expression.
//   - "*" and anything containing "(" are written as is
//   - "expr AS alias" and "table alias" escape both sides
//   - dotted names are escaped per segment, leaving "*" and delimited segments alone
func (w *writer) ident(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "*" || strings.Contains(name, "(") {
		return name
	}
	if expr, alias, ok := splitAlias(name); ok {
		return w.ident(expr) + " AS " + w.ident(alias)
	}
	if parts := strings.Fields(name); len(parts) == 2 {
		return w.ident(parts[0]) + " " + w.ident(parts[1])
	}
	if w.delimited(name) && !strings.Contains(name[1:len(name)-1], ".") {
		return name
	}

	segs := strings.Split(name, ".")
	for i, s := range segs {
		if s == "*" || w.delimited(s) {
			continue
		}
		segs[i] = w.quote(s)
	}
	return strings.Join(segs, ".")
}

func (w *writer) delimited(s string) bool {
	if w.delim == "" || len(s) < 2 {
		return false
	}
	closing := w.delim
	if closing == "[" {
		closing = "]"
	}
	return strings.HasPrefix(s, w.delim) && strings.HasSuffix(s, closing)
}

func splitAlias(name string) (string, string, bool) {
	upper := strings.ToUpper(name)
	idx := strings.LastIndex(upper, " AS ")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(name[:idx]), strings.TrimSpace(name[idx+4:]), true
}

var simpleJoinOn = regexp.MustCompile(`^\s*([A-Za-z_][\w]*(?:\.[A-Za-z_][\w]*)?)\s*(=|!=|<>|<=|>=|<|>)\s*([A-Za-z_][\w]*(?:\.[A-Za-z_][\w]*)?)\s*$`)

// onClause escapes "a.x = b.y" style comparisons and leaves anything else untouched.
func (w *writer) onClause(on string) string {
	m := simpleJoinOn.FindStringSubmatch(on)
	if m == nil {
		return strings.TrimSpace(on)
	}
	return w.ident(m[1]) + " " + m[2] + " " + w.ident(m[3])
}

// forbiddenSQL holds sequences that start a new statement or a comment.
var forbiddenSQL = []string{";", "--", "/*", "*/"}

func isSafeFragment(s string) bool {
	for _, f := range forbiddenSQL {
		if strings.Contains(s, f) {
			return false
		}
	}
	return true
}

// rewritePlaceholders replaces "?" markers outside string literals with the
// dialect placeholder and returns how many it found. SQL with no "?" markers
// is returned unchanged.
func rewritePlaceholders(sqlStr string, ph func(int) string) (string, int) {
	if !strings.Contains(sqlStr, "?") {
		return sqlStr, 0
	}
	var sb strings.Builder
	sb.Grow(len(sqlStr) + 8)
	n := 0
	var quote rune
	for _, r := range sqlStr {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
			sb.WriteString(ph(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String(), n
}

func placeholderFunc(d dialect.Dialect, prefix *string) func(int) string {
	if prefix == nil {
		return d.Placeholder
	}
	p := *prefix
	if p == "" || p == "?" {
		return func(int) string { return "?" }
	}
	return func(i int) string { return p + strconv.Itoa(i) }
}
