package query

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var numberedPlaceholder = regexp.MustCompile(`\$(\d+)`)

// N equality conditions produce N placeholders, numbered 1..N, with params in call order.
func TestProperty_EqualityPlaceholders(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int(), 0, 25).Draw(rt, "values")

		b := Table("items")
		for i, v := range values {
			b.Where(fmt.Sprintf("f%d", i), v)
		}
		sqlStr, params, err := b.Build()
		require.NoError(rt, err)

		matches := numberedPlaceholder.FindAllStringSubmatch(sqlStr, -1)
		require.Len(rt, matches, len(values))
		for i, m := range matches {
			assert.Equal(rt, fmt.Sprint(i+1), m[1])
		}
		require.Len(rt, params, len(values))
		for i, v := range values {
			assert.Equal(rt, v, params[i])
		}
	})
}

// Placeholder count always equals len(params), whatever mix of clauses is used.
func TestProperty_PlaceholderCountMatchesParams(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := Table("t")
		n := rapid.IntRange(0, 8).Draw(rt, "conditions")
		for i := 0; i < n; i++ {
			field := fmt.Sprintf("c%d", i)
			switch rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("kind%d", i)) {
			case 0:
				b.Where(field, rapid.Int().Draw(rt, "v"))
			case 1:
				b.OrWhere(field, ">", rapid.Int().Draw(rt, "v"))
			case 2:
				b.WhereIn(field, rapid.SliceOfN(rapid.Int(), 0, 5).Draw(rt, "in"))
			case 3:
				b.WhereBetween(field, 1, 2)
			case 4:
				b.WhereNull(field)
			case 5:
				b.OrWhereGroup(func(g *Builder) {
					g.Where(field, 1).OrWhere(field, 2)
				})
			}
		}
		if rapid.Bool().Draw(rt, "having") {
			b.GroupBy("c0").Having("COUNT(*)", ">", 1)
		}
		if rapid.Bool().Draw(rt, "paginate") {
			b.Paginate(rapid.IntRange(1, 50).Draw(rt, "page"), rapid.IntRange(1, 50).Draw(rt, "size"))
		}

		sqlStr, params, err := b.Build()
		require.NoError(rt, err)
		require.NotContains(rt, sqlStr, "()")
		matches := numberedPlaceholder.FindAllStringSubmatch(sqlStr, -1)
		require.Len(rt, matches, len(params))
		for i, m := range matches {
			require.Equal(rt, fmt.Sprint(i+1), m[1])
		}
	})
}

// A builder SELECT and the hand-written Raw equivalent bind the same params in the same order.
func TestProperty_BuilderMatchesRaw(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.IntRange(-1000, 1000), 1, 10).Draw(rt, "values")

		b := Table("t")
		conds := make([]string, len(values))
		for i, v := range values {
			b.Where(fmt.Sprintf("f%d", i), v)
			conds[i] = fmt.Sprintf("`f%d` = ?", i)
		}
		raw := New(nil).Raw("SELECT * FROM `t` WHERE "+strings.Join(conds, " AND "), toAny(values)...)

		bs, bp, err := b.Build()
		require.NoError(rt, err)
		rs, rp, err := raw.Build()
		require.NoError(rt, err)

		assert.Equal(rt, bs, rs)
		assert.Equal(rt, bp, rp)
	})
}

func TestProperty_PaginateEqualsOffsetLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("Paginate(page, size) == Offset((page-1)*size).Limit(size)", prop.ForAll(
		func(page, size int) bool {
			a, ap, err := Table("t").Where("x", 1).Paginate(page, size).Build()
			if err != nil {
				return false
			}
			b, bp, err := Table("t").Where("x", 1).Offset((page - 1) * size).Limit(size).Build()
			if err != nil {
				return false
			}
			return a == b && fmt.Sprint(ap) == fmt.Sprint(bp)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 500),
	))

	properties.Property("empty IN never renders empty parentheses", prop.ForAll(
		func(not bool, field string) bool {
			b := Table("t")
			if not {
				b.WhereNotIn("f"+field, []string{})
			} else {
				b.WhereIn("f"+field, []string{})
			}
			sqlStr, params, err := b.Build()
			return err == nil && !strings.Contains(sqlStr, "()") && len(params) == 0
		},
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func toAny[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
