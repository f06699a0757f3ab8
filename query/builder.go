// Package query builds parameterised SQL statements from fluent method calls.
//
// A Builder accumulates one statement: its kind (SELECT, INSERT, UPDATE,
// DELETE, COUNT or RAW), target table, conditions, joins, grouping, ordering,
// paging, RETURNING columns and lock mode. Build renders it into SQL plus an
// ordered parameter list whose length always equals the number of placeholders.
//
// Builders are not safe for concurrent mutation. After Build a builder is
// frozen; further mutations are recorded as ErrBuilderFrozen. Use Clone to
// derive variants from a shared base.
package query

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/dialect"
	"github.com/Aeglx/WeDrawOS-sub006/model"
)

// Kind is the statement kind a Builder renders.
type Kind int

const (
	KindSelect Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindCount
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindCount:
		return "COUNT"
	case KindRaw:
		return "RAW"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// JoinType is the kind of a JOIN clause.
type JoinType string

const (
	InnerJoin JoinType = "INNER JOIN"
	LeftJoin  JoinType = "LEFT JOIN"
	RightJoin JoinType = "RIGHT JOIN"
)

type join struct {
	typ   JoinType
	table string
	on    []string
}

type order struct {
	field string
	dir   string
}

// Option configures a Builder.
type Option func(*Builder)

// WithDelimiter overrides the dialect's identifier delimiter.
func WithDelimiter(delim string) Option {
	return func(b *Builder) {
		b.delim = &delim
	}
}

// WithPlaceholderPrefix overrides the dialect's placeholder style. The prefix
// is followed by the 1-based parameter index; "" or "?" yields bare "?".
func WithPlaceholderPrefix(prefix string) Option {
	return func(b *Builder) {
		b.prefix = &prefix
	}
}

// Builder assembles a single SQL statement.
type Builder struct {
	dialect dialect.Dialect
	delim   *string
	prefix  *string

	kind      Kind
	table     string
	columns   []string
	rows      []map[string]any
	fields    map[string]any
	countCol  string
	rawSQL    string
	rawParams []any
	where     *Group
	having    *Group
	joins     []join
	groupBy   []string
	orderBy   []order
	limit     *int
	offset    *int
	returning []string
	distinct  bool
	lock      dialect.LockMode
	errs      []error
	frozen    bool
}

// New creates a builder for dialect d. A nil dialect selects the generic one:
// backtick identifiers and $N placeholders.
func New(d dialect.Dialect, opts ...Option) *Builder {
	if d == nil {
		d = dialect.Default()
	}
	b := &Builder{
		dialect: d,
		kind:    KindSelect,
		where:   &Group{},
		having:  &Group{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Table creates a generic-dialect builder targeting name.
func Table(name string) *Builder {
	return New(nil).Table(name)
}

// Dialect returns the dialect the builder renders for.
func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

// Kind returns the statement kind that Build will render.
func (b *Builder) Kind() Kind { return b.kind }

// ReturnsRows reports whether the built statement produces a result set.
func (b *Builder) ReturnsRows() bool {
	switch b.kind {
	case KindSelect, KindCount:
		return true
	case KindRaw:
		return rawReturnsRows(b.rawSQL)
	default:
		return len(b.returning) > 0
	}
}

func rawReturnsRows(sqlStr string) bool {
	s := strings.ToUpper(strings.TrimSpace(sqlStr))
	for _, p := range []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return strings.Contains(s, " RETURNING ")
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// mutable records ErrBuilderFrozen on a built builder.
func (b *Builder) mutable() bool {
	if b.frozen {
		b.errs = append(b.errs, dberr.ErrBuilderFrozen)
		return false
	}
	return true
}

// Table sets the target table. An alias may follow: "users u" or "users AS u".
func (b *Builder) Table(name string) *Builder {
	if b.mutable() {
		b.table = strings.TrimSpace(name)
	}
	return b
}

// From is an alias for Table.
func (b *Builder) From(name string) *Builder {
	return b.Table(name)
}

// Select makes this a SELECT of columns; no columns selects "*".
func (b *Builder) Select(columns ...string) *Builder {
	if b.mutable() {
		b.kind = KindSelect
		b.columns = append([]string(nil), columns...)
	}
	return b
}

// Insert makes this an INSERT. rows may be a map[string]any, a []map[string]any,
// a struct, a pointer to a struct or a slice of either. Struct rows also supply
// the table name when none was set.
func (b *Builder) Insert(rows any) *Builder {
	if !b.mutable() {
		return b
	}
	b.kind = KindInsert
	b.rows = nil
	out, table, err := toRows(rows)
	if err != nil {
		b.fail("insert: %w", err)
		return b
	}
	if b.table == "" {
		b.table = table
	}
	b.rows = out
	return b
}

// Update makes this an UPDATE setting fields, a map[string]any or a struct.
func (b *Builder) Update(fields any) *Builder {
	if !b.mutable() {
		return b
	}
	b.kind = KindUpdate
	b.fields = nil
	switch f := fields.(type) {
	case map[string]any:
		b.fields = copyMap(f)
	case nil:
	default:
		m, err := model.GetModel(f)
		if err != nil {
			b.fail("update: %w", err)
			return b
		}
		vals, err := m.Values(f, false)
		if err != nil {
			b.fail("update: %w", err)
			return b
		}
		if b.table == "" {
			b.table = m.TableName
		}
		b.fields = vals
	}
	return b
}

// Delete makes this a DELETE.
func (b *Builder) Delete() *Builder {
	if b.mutable() {
		b.kind = KindDelete
	}
	return b
}

// Count makes this a COUNT of column ("" counts rows).
func (b *Builder) Count(column string) *Builder {
	if b.mutable() {
		b.kind = KindCount
		b.countCol = column
	}
	return b
}

// Raw makes this a raw statement. "?" markers outside string literals are
// rewritten to the dialect's placeholders; all other builder state is ignored.
func (b *Builder) Raw(sqlStr string, params ...any) *Builder {
	if b.mutable() {
		b.kind = KindRaw
		b.rawSQL = sqlStr
		b.rawParams = append([]any(nil), params...)
	}
	return b
}

// Where adds a condition joined with AND. Accepted forms:
//
//	Where("status", "active")            // status = ?
//	Where("age", ">=", 18)               // any operator accepted by ParseOperator
//	Where("deleted_at", "IS NULL")
//	Where(map[string]any{"a": 1, "b": 2}) // AND of equalities, keys sorted
//	Where(query.InOf("id", ids))          // any Condition
func (b *Builder) Where(cond any, args ...any) *Builder {
	return b.addCondition(b.where, And, "where", cond, args)
}

// OrWhere adds a condition joined with OR to everything before it.
func (b *Builder) OrWhere(cond any, args ...any) *Builder {
	return b.addCondition(b.where, Or, "where", cond, args)
}

// Having adds a HAVING condition joined with AND. Forms are as for Where.
func (b *Builder) Having(cond any, args ...any) *Builder {
	return b.addCondition(b.having, And, "having", cond, args)
}

// OrHaving adds a HAVING condition joined with OR.
func (b *Builder) OrHaving(cond any, args ...any) *Builder {
	return b.addCondition(b.having, Or, "having", cond, args)
}

// WhereGroup adds a parenthesised group built by fn, joined with AND.
func (b *Builder) WhereGroup(fn func(g *Builder)) *Builder {
	return b.group(And, fn)
}

// OrWhereGroup adds a parenthesised group built by fn, joined with OR.
func (b *Builder) OrWhereGroup(fn func(g *Builder)) *Builder {
	return b.group(Or, fn)
}

func (b *Builder) group(conj Conjunction, fn func(g *Builder)) *Builder {
	if !b.mutable() {
		return b
	}
	sub := New(b.dialect)
	fn(sub)
	b.errs = append(b.errs, sub.errs...)
	b.where.add(conj, sub.where)
	return b
}

func (b *Builder) addCondition(target *Group, conj Conjunction, clause string, cond any, args []any) *Builder {
	if !b.mutable() {
		return b
	}
	c, err := toCondition(cond, args)
	if err != nil {
		b.fail("%s: %w", clause, err)
		return b
	}
	target.add(conj, c)
	return b
}

func toCondition(cond any, args []any) (Condition, error) {
	switch c := cond.(type) {
	case Condition:
		if len(args) > 0 {
			return nil, fmt.Errorf("unexpected arguments after a Condition")
		}
		return c, nil
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		g := &Group{}
		for _, k := range keys {
			g.add(And, &Predicate{Field: k, Op: Eq, Value: c[k]})
		}
		return g, nil
	case string:
		switch len(args) {
		case 0:
			return nil, fmt.Errorf("missing value for %q", c)
		case 1:
			if s, ok := args[0].(string); ok {
				if op, ok := ParseOperator(s); ok && (op == IsNull || op == IsNotNull) {
					return &Predicate{Field: c, Op: op}, nil
				}
			}
			return &Predicate{Field: c, Op: Eq, Value: args[0]}, nil
		case 2:
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("operator for %q must be a string, got %T", c, args[0])
			}
			op, ok := ParseOperator(s)
			if !ok {
				return nil, fmt.Errorf("invalid operator %q for %q", s, c)
			}
			return &Predicate{Field: c, Op: op, Value: args[1]}, nil
		default:
			return nil, fmt.Errorf("too many arguments for %q", c)
		}
	default:
		return nil, fmt.Errorf("unsupported condition %T", cond)
	}
}

func (b *Builder) WhereIn(field string, values any) *Builder {
	return b.Where(&Predicate{Field: field, Op: In, Value: values})
}

func (b *Builder) WhereNotIn(field string, values any) *Builder {
	return b.Where(&Predicate{Field: field, Op: NotIn, Value: values})
}

func (b *Builder) WhereBetween(field string, lo, hi any) *Builder {
	return b.Where(&Predicate{Field: field, Op: Between, Value: []any{lo, hi}})
}

func (b *Builder) WhereNotBetween(field string, lo, hi any) *Builder {
	return b.Where(&Predicate{Field: field, Op: NotBetween, Value: []any{lo, hi}})
}

func (b *Builder) WhereNull(field string) *Builder {
	return b.Where(&Predicate{Field: field, Op: IsNull})
}

func (b *Builder) WhereNotNull(field string) *Builder {
	return b.Where(&Predicate{Field: field, Op: IsNotNull})
}

func (b *Builder) WhereLike(field string, pattern string) *Builder {
	return b.Where(&Predicate{Field: field, Op: Like, Value: pattern})
}

func (b *Builder) WhereNotLike(field string, pattern string) *Builder {
	return b.Where(&Predicate{Field: field, Op: NotLike, Value: pattern})
}

// Join adds an INNER JOIN. on is a string or a []string of clauses ANDed together.
func (b *Builder) Join(table string, on any) *Builder {
	return b.addJoin(InnerJoin, table, on)
}

// LeftJoin adds a LEFT JOIN.
func (b *Builder) LeftJoin(table string, on any) *Builder {
	return b.addJoin(LeftJoin, table, on)
}

// RightJoin adds a RIGHT JOIN.
func (b *Builder) RightJoin(table string, on any) *Builder {
	return b.addJoin(RightJoin, table, on)
}

func (b *Builder) addJoin(typ JoinType, table string, on any) *Builder {
	if !b.mutable() {
		return b
	}
	var clauses []string
	switch o := on.(type) {
	case string:
		clauses = []string{o}
	case []string:
		clauses = append(clauses, o...)
	default:
		b.fail("join %q: unsupported ON clause %T", table, on)
		return b
	}
	if strings.TrimSpace(table) == "" || len(clauses) == 0 {
		b.fail("join: table and ON clause are required")
		return b
	}
	for _, s := range append([]string{table}, clauses...) {
		if !isSafeFragment(s) {
			b.fail("join %q: clause contains a statement separator or comment", table)
			return b
		}
	}
	b.joins = append(b.joins, join{typ: typ, table: table, on: clauses})
	return b
}

func (b *Builder) GroupBy(fields ...string) *Builder {
	if b.mutable() {
		b.groupBy = append(b.groupBy, fields...)
	}
	return b
}

// OrderBy adds sort keys. field is either a column, optionally followed by its
// direction ("created_at DESC"), or a map[string]string of column to direction
// applied in sorted key order. An explicit dir overrides the one in field.
func (b *Builder) OrderBy(field any, dir ...string) *Builder {
	if !b.mutable() {
		return b
	}
	switch f := field.(type) {
	case string:
		col, d := splitDirection(f)
		if len(dir) > 0 {
			d = dir[0]
		}
		b.addOrder(col, d)
	case map[string]string:
		keys := make([]string, 0, len(f))
		for k := range f {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.addOrder(k, f[k])
		}
	default:
		b.fail("order by: unsupported field %T", field)
	}
	return b
}

func splitDirection(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ' '); i > 0 && !strings.Contains(s, "(") {
		last := strings.ToUpper(s[i+1:])
		if last == "ASC" || last == "DESC" {
			return strings.TrimSpace(s[:i]), last
		}
	}
	return s, ""
}

func (b *Builder) addOrder(col, dir string) {
	dir = strings.ToUpper(strings.TrimSpace(dir))
	switch dir {
	case "":
		dir = "ASC"
	case "ASC", "DESC":
	default:
		b.fail("order by %q: invalid direction %q", col, dir)
		return
	}
	b.orderBy = append(b.orderBy, order{field: col, dir: dir})
}

func (b *Builder) Limit(n int) *Builder {
	if !b.mutable() {
		return b
	}
	if n < 0 {
		b.fail("limit must not be negative, got %d", n)
		return b
	}
	b.limit = &n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	if !b.mutable() {
		return b
	}
	if n < 0 {
		b.fail("offset must not be negative, got %d", n)
		return b
	}
	b.offset = &n
	return b
}

// Paginate sets LIMIT size and OFFSET (page-1)*size. Pages are 1-indexed;
// pages below 1 are treated as 1.
func (b *Builder) Paginate(page, size int) *Builder {
	if size <= 0 {
		if b.mutable() {
			b.fail("page size must be positive, got %d", size)
		}
		return b
	}
	if page < 1 {
		page = 1
	}
	return b.Offset((page - 1) * size).Limit(size)
}

// Returning adds a RETURNING clause to INSERT, UPDATE and DELETE statements.
func (b *Builder) Returning(columns ...string) *Builder {
	if b.mutable() {
		b.returning = append(b.returning, columns...)
	}
	return b
}

func (b *Builder) Distinct() *Builder {
	if b.mutable() {
		b.distinct = true
	}
	return b
}

// ForUpdate appends the dialect's exclusive row lock to a SELECT.
func (b *Builder) ForUpdate() *Builder {
	if b.mutable() {
		b.lock = dialect.LockForUpdate
	}
	return b
}

// ForShare appends the dialect's shared row lock to a SELECT.
func (b *Builder) ForShare() *Builder {
	if b.mutable() {
		b.lock = dialect.LockForShare
	}
	return b
}

// Clone returns an unfrozen deep copy of the builder.
func (b *Builder) Clone() *Builder {
	nb := *b
	nb.frozen = false
	nb.columns = append([]string(nil), b.columns...)
	nb.rawParams = append([]any(nil), b.rawParams...)
	nb.where = b.where.clone()
	nb.having = b.having.clone()
	nb.joins = make([]join, len(b.joins))
	for i, j := range b.joins {
		nb.joins[i] = join{typ: j.typ, table: j.table, on: append([]string(nil), j.on...)}
	}
	nb.groupBy = append([]string(nil), b.groupBy...)
	nb.orderBy = append([]order(nil), b.orderBy...)
	nb.returning = append([]string(nil), b.returning...)
	nb.errs = append([]error(nil), b.errs...)
	if b.rows != nil {
		nb.rows = make([]map[string]any, len(b.rows))
		for i, r := range b.rows {
			nb.rows[i] = copyMap(r)
		}
	}
	if b.fields != nil {
		nb.fields = copyMap(b.fields)
	}
	if b.limit != nil {
		l := *b.limit
		nb.limit = &l
	}
	if b.offset != nil {
		o := *b.offset
		nb.offset = &o
	}
	return &nb
}

// Build renders the statement. It freezes the builder; calling Build again
// returns the same result.
func (b *Builder) Build() (string, []any, error) {
	b.frozen = true
	if len(b.errs) > 0 {
		return "", nil, &dberr.QueryBuildError{Reason: "invalid builder state", Err: errors.Join(b.errs...)}
	}

	w := b.newWriter()
	var err error
	switch b.kind {
	case KindSelect:
		err = b.buildSelect(w, selectClauses)
	case KindCount:
		err = b.buildCount(w)
	case KindInsert:
		err = b.buildInsert(w)
	case KindUpdate:
		err = b.buildUpdate(w)
	case KindDelete:
		err = b.buildDelete(w)
	case KindRaw:
		err = b.buildRaw(w)
	default:
		err = fmt.Errorf("unsupported statement kind %s", b.kind)
	}
	if err != nil {
		return "", nil, &dberr.QueryBuildError{Reason: err.Error()}
	}
	if w.params == nil {
		w.params = []any{}
	}
	return w.String(), w.params, nil
}

func (b *Builder) newWriter() *writer {
	d := b.dialect
	delim := d.Delimiter()
	quote := d.Quote
	if b.delim != nil {
		delim = *b.delim
		quote = dialect.New(delim, "").Quote
	}
	return &writer{
		quote: quote,
		delim: delim,
		ph:    placeholderFunc(d, b.prefix),
	}
}

func (b *Builder) requireTable() error {
	if b.table == "" {
		return fmt.Errorf("%s requires a table", b.kind)
	}
	return nil
}

func (b *Builder) buildSelect(w *writer, clauses []ClauseType) error {
	if err := b.requireTable(); err != nil {
		return err
	}
	for _, c := range clauses {
		if err := b.writeClause(w, c); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeClause(w *writer, c ClauseType) error {
	switch c {
	case SELECT:
		w.WriteString("SELECT ")
		if b.kind == KindCount {
			b.writeCountExpr(w)
			return nil
		}
		if b.distinct {
			w.WriteString("DISTINCT ")
		}
		if len(b.columns) == 0 {
			w.WriteString("*")
			return nil
		}
		for i, col := range b.columns {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(w.ident(col))
		}
	case FROM:
		w.WriteString(" FROM ")
		w.WriteString(w.ident(b.table))
	case JOIN:
		for _, j := range b.joins {
			w.WriteString(" ")
			w.WriteString(string(j.typ))
			w.WriteString(" ")
			w.WriteString(w.ident(j.table))
			w.WriteString(" ON ")
			for i, on := range j.on {
				if i > 0 {
					w.WriteString(" AND ")
				}
				w.WriteString(w.onClause(on))
			}
		}
	case WHERE:
		return writeConditions(w, " WHERE ", b.where)
	case GROUPBY:
		if len(b.groupBy) == 0 {
			return nil
		}
		w.WriteString(" GROUP BY ")
		for i, g := range b.groupBy {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(w.ident(g))
		}
	case HAVING:
		return writeConditions(w, " HAVING ", b.having)
	case ORDERBY:
		if len(b.orderBy) == 0 {
			return nil
		}
		w.WriteString(" ORDER BY ")
		for i, o := range b.orderBy {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(w.ident(o.field))
			w.WriteString(" ")
			w.WriteString(o.dir)
		}
	case LIMIT:
		if b.limit != nil {
			w.WriteString(" LIMIT ")
			w.bind(*b.limit)
		}
	case OFFSET:
		if b.offset != nil {
			w.WriteString(" OFFSET ")
			w.bind(*b.offset)
		}
	case LOCK:
		if lc := b.dialect.LockClause(b.lock); lc != "" {
			w.WriteString(" ")
			w.WriteString(lc)
		}
	default:
		return fmt.Errorf("unknown clause %d", c)
	}
	return nil
}

func writeConditions(w *writer, keyword string, g *Group) error {
	if g.Len() == 0 {
		return nil
	}
	w.WriteString(keyword)
	return renderGroup(w, g)
}

func (b *Builder) writeCountExpr(w *writer) {
	col := strings.TrimSpace(b.countCol)
	if col == "" {
		col = "*"
	}
	w.WriteString("COUNT(")
	if b.distinct && col != "*" {
		w.WriteString("DISTINCT ")
	}
	w.WriteString(w.ident(col))
	w.WriteString(") AS ")
	w.WriteString(w.quote("count"))
}

// buildCount counts matching rows. Grouped queries are counted by group, and
// DISTINCT selects by distinct row, via a derived table so the result is a
// single row.
func (b *Builder) buildCount(w *writer) error {
	col := strings.TrimSpace(b.countCol)
	distinctRows := b.distinct && len(b.columns) > 0 && (col == "" || col == "*")
	if len(b.groupBy) == 0 && !distinctRows {
		return b.buildSelect(w, countClauses)
	}
	if err := b.requireTable(); err != nil {
		return err
	}
	w.WriteString("SELECT COUNT(*) AS ")
	w.WriteString(w.quote("count"))
	w.WriteString(" FROM (SELECT ")
	inner := b.groupBy
	if len(inner) == 0 {
		w.WriteString("DISTINCT ")
		inner = b.columns
	}
	for i, g := range inner {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(w.ident(g))
	}
	for _, c := range countClauses[1:] {
		if err := b.writeClause(w, c); err != nil {
			return err
		}
	}
	w.WriteString(") AS ")
	w.WriteString(w.quote("grouped"))
	return nil
}

func (b *Builder) buildInsert(w *writer) error {
	if err := b.requireTable(); err != nil {
		return err
	}
	if len(b.rows) == 0 {
		return fmt.Errorf("INSERT requires at least one row")
	}
	cols := sortedKeys(b.rows[0])
	if len(cols) == 0 {
		return fmt.Errorf("INSERT row has no columns")
	}
	for i, r := range b.rows[1:] {
		if len(r) != len(cols) {
			return fmt.Errorf("INSERT row %d has %d columns, want %d", i+1, len(r), len(cols))
		}
		for _, c := range cols {
			if _, ok := r[c]; !ok {
				return fmt.Errorf("INSERT row %d is missing column %q", i+1, c)
			}
		}
	}

	w.WriteString("INSERT INTO ")
	w.WriteString(w.ident(b.table))
	w.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(w.ident(c))
	}
	w.WriteString(") VALUES ")
	for i, r := range b.rows {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString("(")
		for j, c := range cols {
			if j > 0 {
				w.WriteString(", ")
			}
			w.bind(r[c])
		}
		w.WriteString(")")
	}
	return b.writeReturning(w)
}

func (b *Builder) buildUpdate(w *writer) error {
	if err := b.requireTable(); err != nil {
		return err
	}
	if len(b.fields) == 0 {
		return fmt.Errorf("UPDATE requires at least one field")
	}
	w.WriteString("UPDATE ")
	w.WriteString(w.ident(b.table))
	w.WriteString(" SET ")
	for i, c := range sortedKeys(b.fields) {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(w.ident(c))
		w.WriteString(" = ")
		w.bind(b.fields[c])
	}
	if err := writeConditions(w, " WHERE ", b.where); err != nil {
		return err
	}
	return b.writeReturning(w)
}

func (b *Builder) buildDelete(w *writer) error {
	if err := b.requireTable(); err != nil {
		return err
	}
	w.WriteString("DELETE FROM ")
	w.WriteString(w.ident(b.table))
	if err := writeConditions(w, " WHERE ", b.where); err != nil {
		return err
	}
	return b.writeReturning(w)
}

func (b *Builder) writeReturning(w *writer) error {
	if len(b.returning) == 0 {
		return nil
	}
	if !b.dialect.SupportsReturning() {
		return fmt.Errorf("dialect %s does not support RETURNING", b.dialect.Name())
	}
	w.WriteString(" RETURNING ")
	for i, c := range b.returning {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(w.ident(c))
	}
	return nil
}

func (b *Builder) buildRaw(w *writer) error {
	if strings.TrimSpace(b.rawSQL) == "" {
		return fmt.Errorf("RAW requires a statement")
	}
	sqlStr, n := rewritePlaceholders(b.rawSQL, w.ph)
	if n > 0 && n != len(b.rawParams) {
		return fmt.Errorf("RAW statement has %d placeholders but %d params", n, len(b.rawParams))
	}
	w.WriteString(sqlStr)
	w.params = append(w.params, b.rawParams...)
	return nil
}

func toRows(rows any) ([]map[string]any, string, error) {
	switch r := rows.(type) {
	case nil:
		return nil, "", fmt.Errorf("no data")
	case map[string]any:
		return []map[string]any{copyMap(r)}, "", nil
	case []map[string]any:
		out := make([]map[string]any, len(r))
		for i, m := range r {
			out[i] = copyMap(m)
		}
		return out, "", nil
	}

	rv := reflect.ValueOf(rows)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var out []map[string]any
		var table string
		for i := 0; i < rv.Len(); i++ {
			row, t, err := structRow(rv.Index(i).Interface())
			if err != nil {
				return nil, "", fmt.Errorf("row %d: %w", i, err)
			}
			table = t
			out = append(out, row)
		}
		return out, table, nil
	}
	row, table, err := structRow(rows)
	if err != nil {
		return nil, "", err
	}
	return []map[string]any{row}, table, nil
}

func structRow(v any) (map[string]any, string, error) {
	m, err := model.GetModel(v)
	if err != nil {
		return nil, "", err
	}
	vals, err := m.Values(v, true)
	if err != nil {
		return nil, "", err
	}
	return vals, m.TableName, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
