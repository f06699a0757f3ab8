package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator is the closed set of comparison operators a Predicate may use.
type Operator int

const (
	opInvalid Operator = iota
	Eq
	Neq
	Gt
	Gte
	Lt
	Lte
	Like
	NotLike
	In
	NotIn
	Between
	NotBetween
	IsNull
	IsNotNull
)

var operatorSQL = [...]string{
	Eq:         "=",
	Neq:        "!=",
	Gt:         ">",
	Gte:        ">=",
	Lt:         "<",
	Lte:        "<=",
	Like:       "LIKE",
	NotLike:    "NOT LIKE",
	In:         "IN",
	NotIn:      "NOT IN",
	Between:    "BETWEEN",
	NotBetween: "NOT BETWEEN",
	IsNull:     "IS NULL",
	IsNotNull:  "IS NOT NULL",
}

func (o Operator) String() string {
	if o <= opInvalid || int(o) >= len(operatorSQL) {
		return fmt.Sprintf("Operator(%d)", int(o))
	}
	return operatorSQL[o]
}

// ParseOperator maps SQL operator text to an Operator. Matching ignores case
// and repeated whitespace; "==" and "<>" are accepted as Eq and Neq.
func ParseOperator(s string) (Operator, bool) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	switch norm {
	case "=", "==":
		return Eq, true
	case "!=", "<>":
		return Neq, true
	case ">":
		return Gt, true
	case ">=":
		return Gte, true
	case "<":
		return Lt, true
	case "<=":
		return Lte, true
	case "LIKE":
		return Like, true
	case "NOT LIKE":
		return NotLike, true
	case "IN":
		return In, true
	case "NOT IN":
		return NotIn, true
	case "BETWEEN":
		return Between, true
	case "NOT BETWEEN":
		return NotBetween, true
	case "IS NULL":
		return IsNull, true
	case "IS NOT NULL":
		return IsNotNull, true
	}
	return opInvalid, false
}

// Conjunction joins a condition to the ones before it in a Group.
type Conjunction int

const (
	And Conjunction = iota
	Or
)

func (c Conjunction) String() string {
	if c == Or {
		return "OR"
	}
	return "AND"
}

// Condition is a node of a WHERE or HAVING tree. *Predicate and *Group are the
// only implementations.
type Condition interface {
	condition()
}

// Predicate compares one field against a value.
// In and NotIn take a slice (or array) value; Between and NotBetween take a
// two-element slice holding the low and high bounds; IsNull and IsNotNull ignore Value.
type Predicate struct {
	Field string
	Op    Operator
	Value any
}

func (*Predicate) condition() {}

// Group is an ordered list of conditions folded left to right: each item is
// joined to everything before it by its own conjunction.
type Group struct {
	items []groupItem
}

type groupItem struct {
	conj Conjunction
	cond Condition
}

func (*Group) condition() {}

// Len reports the number of direct children.
func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.items)
}

// And appends conditions joined with AND.
func (g *Group) And(conds ...Condition) *Group {
	for _, c := range conds {
		g.add(And, c)
	}
	return g
}

// Or appends conditions joined with OR.
func (g *Group) Or(conds ...Condition) *Group {
	for _, c := range conds {
		g.add(Or, c)
	}
	return g
}

func (g *Group) add(conj Conjunction, c Condition) {
	if c == nil {
		return
	}
	if sub, ok := c.(*Group); ok && sub.Len() == 0 {
		return
	}
	g.items = append(g.items, groupItem{conj: conj, cond: c})
}

// clone copies g and every node below it.
func (g *Group) clone() *Group {
	if g == nil {
		return &Group{}
	}
	ng := &Group{items: make([]groupItem, len(g.items))}
	for i, it := range g.items {
		ng.items[i] = groupItem{conj: it.conj, cond: cloneCondition(it.cond)}
	}
	return ng
}

func cloneCondition(c Condition) Condition {
	switch c := c.(type) {
	case *Group:
		return c.clone()
	case *Predicate:
		p := *c
		return &p
	}
	return c
}

// unwrap skips groups holding a single condition; they add no precedence.
func unwrap(c Condition) Condition {
	for {
		g, ok := c.(*Group)
		if !ok || g.Len() != 1 {
			return c
		}
		c = g.items[0].cond
	}
}

// Constructors for the common predicate forms.

func EqOf(field string, v any) Condition { return &Predicate{Field: field, Op: Eq, Value: v} }
func NeqOf(field string, v any) Condition { return &Predicate{Field: field, Op: Neq, Value: v} }
func GtOf(field string, v any) Condition { return &Predicate{Field: field, Op: Gt, Value: v} }
func LtOf(field string, v any) Condition { return &Predicate{Field: field, Op: Lt, Value: v} }
func InOf(field string, values any) Condition { return &Predicate{Field: field, Op: In, Value: values} }
func NullOf(field string) Condition { return &Predicate{Field: field, Op: IsNull} }
func BetweenOf(field string, lo, hi any) Condition {
	return &Predicate{Field: field, Op: Between, Value: []any{lo, hi}}
}

// AllOf returns a group of conditions joined with AND.
func AllOf(conds ...Condition) *Group { return (&Group{}).And(conds...) }

// AnyOf returns a group of conditions joined with OR.
func AnyOf(conds ...Condition) *Group { return (&Group{}).Or(conds...) }

// renderCondition writes c into w. Unknown condition types and operators are errors.
func renderCondition(w *writer, c Condition) error {
	switch c := c.(type) {
	case *Predicate:
		return renderPredicate(w, c)
	case *Group:
		return renderGroup(w, c)
	default:
		return fmt.Errorf("unsupported condition type %T", c)
	}
}

func renderGroup(w *writer, g *Group) error {
	if g.Len() == 0 {
		return fmt.Errorf("empty condition group")
	}
	// Each change of conjunction closes everything written so far into one
	// parenthesised operand, so the opening parens are emitted up front.
	changes := 0
	for i := 2; i < len(g.items); i++ {
		if g.items[i].conj != g.items[i-1].conj {
			changes++
		}
	}
	w.WriteString(strings.Repeat("(", changes))

	for i, it := range g.items {
		if i > 0 {
			if i >= 2 && it.conj != g.items[i-1].conj {
				w.WriteString(")")
			}
			w.WriteString(" ")
			w.WriteString(it.conj.String())
			w.WriteString(" ")
		}
		if sub, ok := unwrap(it.cond).(*Group); ok && sub.Len() > 1 && len(g.items) > 1 {
			w.WriteString("(")
			if err := renderGroup(w, sub); err != nil {
				return err
			}
			w.WriteString(")")
			continue
		}
		if err := renderCondition(w, it.cond); err != nil {
			return err
		}
	}
	return nil
}

func renderPredicate(w *writer, p *Predicate) error {
	if strings.TrimSpace(p.Field) == "" {
		return fmt.Errorf("condition has an empty field")
	}
	field := w.ident(p.Field)

	switch p.Op {
	case Eq, Neq:
		if p.Value == nil {
			w.WriteString(field)
			if p.Op == Eq {
				w.WriteString(" IS NULL")
			} else {
				w.WriteString(" IS NOT NULL")
			}
			return nil
		}
		fallthrough
	case Gt, Gte, Lt, Lte, Like, NotLike:
		w.WriteString(field)
		w.WriteString(" ")
		w.WriteString(p.Op.String())
		w.WriteString(" ")
		w.bind(p.Value)
		return nil
	case In, NotIn:
		values := listValues(p.Value)
		if len(values) == 0 {
			// An empty list matches nothing; its negation matches everything.
			if p.Op == In {
				w.WriteString("1 = 0")
			} else {
				w.WriteString("1 = 1")
			}
			return nil
		}
		w.WriteString(field)
		w.WriteString(" ")
		w.WriteString(p.Op.String())
		w.WriteString(" (")
		for i, v := range values {
			if i > 0 {
				w.WriteString(", ")
			}
			w.bind(v)
		}
		w.WriteString(")")
		return nil
	case Between, NotBetween:
		bounds := listValues(p.Value)
		if len(bounds) != 2 {
			return fmt.Errorf("%s on %q needs exactly 2 values, got %d", p.Op, p.Field, len(bounds))
		}
		w.WriteString(field)
		w.WriteString(" ")
		w.WriteString(p.Op.String())
		w.WriteString(" ")
		w.bind(bounds[0])
		w.WriteString(" AND ")
		w.bind(bounds[1])
		return nil
	case IsNull, IsNotNull:
		w.WriteString(field)
		w.WriteString(" ")
		w.WriteString(p.Op.String())
		return nil
	default:
		return fmt.Errorf("invalid operator %s on %q", p.Op, p.Field)
	}
}

// listValues flattens a slice or array into []any. A nil value is an empty
// list; any other scalar is a one-element list. []byte is a scalar.
func listValues(v any) []any {
	if v == nil {
		return nil
	}
	if vs, ok := v.([]any); ok {
		return vs
	}
	if _, ok := v.([]byte); ok {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
