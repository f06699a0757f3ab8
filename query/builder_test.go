package query

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeglx/WeDrawOS-sub006/dberr"
	"github.com/Aeglx/WeDrawOS-sub006/dialect"
)

func mustBuild(t *testing.T, b *Builder) (string, []any) {
	t.Helper()
	sqlStr, params, err := b.Build()
	require.NoError(t, err)
	return sqlStr, params
}

func pg(t *testing.T) dialect.Dialect {
	t.Helper()
	d, ok := dialect.Get("postgres")
	require.True(t, ok)
	return d
}

func TestSelect(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		sqlStr, params := mustBuild(t, Table("users"))
		assert.Equal(t, "SELECT * FROM `users`", sqlStr)
		assert.Empty(t, params)
		assert.NotNil(t, params)
	})

	t.Run("FullClauseOrder", func(t *testing.T) {
		b := Table("users u").
			Select("u.id", "u.name", "COUNT(o.id) AS orders").
			LeftJoin("orders o", "u.id = o.user_id").
			Where("u.status", "active").
			Where("u.age", ">=", 18).
			GroupBy("u.id", "u.name").
			Having("COUNT(o.id)", ">", 2).
			OrderBy("u.name").
			OrderBy("u.id", "desc").
			Limit(10).
			Offset(20).
			ForUpdate()

		sqlStr, params := mustBuild(t, b)
		assert.Equal(t,
			"SELECT `u`.`id`, `u`.`name`, COUNT(o.id) AS orders FROM `users` `u`"+
				" LEFT JOIN `orders` `o` ON `u`.`id` = `o`.`user_id`"+
				" WHERE `u`.`status` = $1 AND `u`.`age` >= $2"+
				" GROUP BY `u`.`id`, `u`.`name`"+
				" HAVING COUNT(o.id) > $3"+
				" ORDER BY `u`.`name` ASC, `u`.`id` DESC"+
				" LIMIT $4 OFFSET $5 FOR UPDATE",
			sqlStr)
		assert.Equal(t, []any{"active", 18, 2, 10, 20}, params)
	})

	t.Run("DistinctAndAliases", func(t *testing.T) {
		sqlStr, _ := mustBuild(t, Table("users AS u").Distinct().Select("u.email AS mail", "u.*"))
		assert.Equal(t, "SELECT DISTINCT `u`.`email` AS `mail`, `u`.* FROM `users` AS `u`", sqlStr)
	})

	t.Run("PostgresDialect", func(t *testing.T) {
		sqlStr, params := mustBuild(t, New(pg(t)).Table("accounts").Where("id", 7).ForShare())
		assert.Equal(t, `SELECT * FROM "accounts" WHERE "id" = $1 FOR SHARE`, sqlStr)
		assert.Equal(t, []any{7}, params)
	})

	t.Run("MySQLPlaceholders", func(t *testing.T) {
		my, _ := dialect.Get("mysql")
		sqlStr, params := mustBuild(t, New(my).Table("t").Where("a", 1).Where("b", 2).ForShare())
		assert.Equal(t, "SELECT * FROM `t` WHERE `a` = ? AND `b` = ? LOCK IN SHARE MODE", sqlStr)
		assert.Len(t, params, 2)
	})

	t.Run("SQLiteDropsLock", func(t *testing.T) {
		lite, _ := dialect.Get("sqlite")
		sqlStr, _ := mustBuild(t, New(lite).Table("t").ForUpdate())
		assert.Equal(t, "SELECT * FROM `t`", sqlStr)
	})

	t.Run("MissingTable", func(t *testing.T) {
		_, _, err := New(nil).Select("a").Build()
		var qe *dberr.QueryBuildError
		require.ErrorAs(t, err, &qe)
		assert.ErrorIs(t, err, dberr.ErrInvalidQuery)
	})
}

func TestEscaping(t *testing.T) {
	cases := map[string]string{
		"name":           "`name`",
		"users.name":     "`users`.`name`",
		"*":              "*",
		"users.*":        "`users`.*",
		"`already`":      "`already`",
		"`a`.b":          "`a`.`b`",
		"we`ird":         "`we``ird`",
		"MAX(price)":     "MAX(price)",
		"price AS p":     "`price` AS `p`",
		"LOWER(name) AS": "LOWER(name) AS",
	}
	for in, want := range cases {
		w := New(nil).newWriter()
		assert.Equal(t, want, w.ident(in), in)
	}
}

func TestConfigurableDelimiterAndPrefix(t *testing.T) {
	b := New(nil, WithDelimiter(`"`), WithPlaceholderPrefix(":")).Table("t").Where("a", 1).Where("b", 2)
	sqlStr, _ := mustBuild(t, b)
	assert.Equal(t, `SELECT * FROM "t" WHERE "a" = :1 AND "b" = :2`, sqlStr)

	b = New(pg(t), WithPlaceholderPrefix("?")).Table("t").Where("a", 1)
	sqlStr, _ = mustBuild(t, b)
	assert.Equal(t, `SELECT * FROM "t" WHERE "a" = ?`, sqlStr)
}

func TestWhereForms(t *testing.T) {
	t.Run("MapIsSortedAnd", func(t *testing.T) {
		sqlStr, params := mustBuild(t, Table("t").Where(map[string]any{"b": 2, "a": 1, "c": 3}))
		assert.Equal(t, "SELECT * FROM `t` WHERE `a` = $1 AND `b` = $2 AND `c` = $3", sqlStr)
		assert.Equal(t, []any{1, 2, 3}, params)
	})

	t.Run("MapGroupIsParenthesisedWhenOred", func(t *testing.T) {
		sqlStr, _ := mustBuild(t, Table("t").Where("x", 0).OrWhere(map[string]any{"a": 1, "b": 2}))
		assert.Equal(t, "SELECT * FROM `t` WHERE `x` = $1 OR (`a` = $2 AND `b` = $3)", sqlStr)
	})

	t.Run("NullForms", func(t *testing.T) {
		sqlStr, params := mustBuild(t, Table("t").
			Where("deleted_at", "IS NULL").
			Where("owner", nil).
			Where("parent", "!=", nil).
			WhereNotNull("email"))
		assert.Equal(t, "SELECT * FROM `t` WHERE `deleted_at` IS NULL AND `owner` IS NULL AND `parent` IS NOT NULL AND `email` IS NOT NULL", sqlStr)
		assert.Empty(t, params)
	})

	t.Run("OperatorsAreCaseInsensitive", func(t *testing.T) {
		sqlStr, params := mustBuild(t, Table("t").Where("name", "not  like", "%x%").Where("n", "<>", 1))
		assert.Equal(t, "SELECT * FROM `t` WHERE `name` NOT LIKE $1 AND `n` != $2", sqlStr)
		assert.Equal(t, []any{"%x%", 1}, params)
	})

	t.Run("InvalidOperator", func(t *testing.T) {
		_, _, err := Table("t").Where("a", "~~", 1).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid operator "~~"`)
	})

	t.Run("InvalidConditionType", func(t *testing.T) {
		_, _, err := Table("t").Where(42).Build()
		assert.ErrorIs(t, err, dberr.ErrInvalidQuery)
	})

	t.Run("UnknownOperatorInPredicate", func(t *testing.T) {
		_, _, err := Table("t").Where(&Predicate{Field: "a", Op: Operator(99), Value: 1}).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid operator")
	})

	t.Run("MissingValue", func(t *testing.T) {
		_, _, err := Table("t").Where("a").Build()
		assert.Error(t, err)
	})
}

func TestTypedWrappers(t *testing.T) {
	sqlStr, params := mustBuild(t, Table("t").
		WhereIn("id", []int{1, 2, 3}).
		WhereNotIn("state", []string{"x"}).
		WhereBetween("age", 18, 65).
		WhereNotBetween("score", 0, 10).
		WhereLike("name", "a%").
		WhereNotLike("name", "%z").
		WhereNull("deleted_at"))
	assert.Equal(t, "SELECT * FROM `t` WHERE `id` IN ($1, $2, $3) AND `state` NOT IN ($4)"+
		" AND `age` BETWEEN $5 AND $6 AND `score` NOT BETWEEN $7 AND $8"+
		" AND `name` LIKE $9 AND `name` NOT LIKE $10 AND `deleted_at` IS NULL", sqlStr)
	assert.Equal(t, []any{1, 2, 3, "x", 18, 65, 0, 10, "a%", "%z"}, params)
}

func TestEmptyInList(t *testing.T) {
	sqlStr, params := mustBuild(t, Table("t").WhereIn("id", []int{}))
	assert.Equal(t, "SELECT * FROM `t` WHERE 1 = 0", sqlStr)
	assert.Empty(t, params)
	assert.NotContains(t, sqlStr, "IN ()")

	sqlStr, _ = mustBuild(t, Table("t").WhereNotIn("id", nil).Where("a", 1))
	assert.Equal(t, "SELECT * FROM `t` WHERE 1 = 1 AND `a` = $1", sqlStr)
}

func TestBetweenNeedsTwoValues(t *testing.T) {
	_, _, err := Table("t").Where("a", "BETWEEN", []int{1}).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 2 values")
}

func TestOrWherePrecedence(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
		want string
	}{
		{"AndThenOr", Table("t").Where("a", 1).Where("b", 2).OrWhere("c", 3),
			"(`a` = $1 AND `b` = $2) OR `c` = $3"},
		{"OrThenAnd", Table("t").Where("a", 1).OrWhere("b", 2).Where("c", 3),
			"(`a` = $1 OR `b` = $2) AND `c` = $3"},
		{"AllOr", Table("t").Where("a", 1).OrWhere("b", 2).OrWhere("c", 3),
			"`a` = $1 OR `b` = $2 OR `c` = $3"},
		{"Alternating", Table("t").Where("a", 1).OrWhere("b", 2).Where("c", 3).OrWhere("d", 4),
			"((`a` = $1 OR `b` = $2) AND `c` = $3) OR `d` = $4"},
		{"ExplicitGroup", Table("t").Where("a", 1).WhereGroup(func(g *Builder) {
			g.Where("b", 2).OrWhere("c", 3)
		}), "`a` = $1 AND (`b` = $2 OR `c` = $3)"},
		{"OrGroup", Table("t").Where("a", 1).OrWhereGroup(func(g *Builder) {
			g.Where("b", 2).Where("c", 3)
		}), "`a` = $1 OR (`b` = $2 AND `c` = $3)"},
		{"ConditionUnion", Table("t").Where(AnyOf(EqOf("a", 1), AllOf(GtOf("b", 2), LtOf("b", 9)))),
			"`a` = $1 OR (`b` > $2 AND `b` < $3)"},
		{"WrappedAnyOf", Table("t").Where("a", 1).Where(AllOf(AnyOf(EqOf("b", 2), EqOf("c", 3)))),
			"`a` = $1 AND (`b` = $2 OR `c` = $3)"},
		{"GroupHoldingAnyOf", Table("t").Where("a", 1).WhereGroup(func(g *Builder) {
			g.Where(AnyOf(EqOf("b", 2), EqOf("c", 3)))
		}), "`a` = $1 AND (`b` = $2 OR `c` = $3)"},
		{"DeeplyWrapped", Table("t").Where(AllOf(AllOf(AnyOf(EqOf("b", 2), EqOf("c", 3))))).Where("a", 1),
			"(`b` = $1 OR `c` = $2) AND `a` = $3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sqlStr, _ := mustBuild(t, tc.b)
			assert.Equal(t, "SELECT * FROM `t` WHERE "+tc.want, sqlStr)
		})
	}
}

func TestEmptyGroupIsIgnored(t *testing.T) {
	sqlStr, _ := mustBuild(t, Table("t").WhereGroup(func(*Builder) {}))
	assert.Equal(t, "SELECT * FROM `t`", sqlStr)
}

func TestJoins(t *testing.T) {
	t.Run("ListIsAnded", func(t *testing.T) {
		sqlStr, _ := mustBuild(t, Table("a").
			Join("b", []string{"a.id = b.a_id", "b.kind = a.kind"}).
			RightJoin("c", "c.x > 1"))
		assert.Equal(t, "SELECT * FROM `a` INNER JOIN `b` ON `a`.`id` = `b`.`a_id` AND `b`.`kind` = `a`.`kind`"+
			" RIGHT JOIN `c` ON c.x > 1", sqlStr)
	})

	t.Run("RejectsInjection", func(t *testing.T) {
		for _, on := range []string{"a.id = b.id; DROP TABLE a", "a.id = b.id -- x", "a.id /* x */ = b.id"} {
			_, _, err := Table("a").Join("b", on).Build()
			assert.ErrorIs(t, err, dberr.ErrInvalidQuery, on)
		}
	})
}

func TestOrderBy(t *testing.T) {
	sqlStr, _ := mustBuild(t, Table("t").OrderBy(map[string]string{"z": "desc", "a": ""}).OrderBy("created_at DESC"))
	assert.Equal(t, "SELECT * FROM `t` ORDER BY `a` ASC, `z` DESC, `created_at` DESC", sqlStr)

	_, _, err := Table("t").OrderBy("a", "sideways").Build()
	assert.ErrorContains(t, err, "invalid direction")
}

func TestInsert(t *testing.T) {
	t.Run("SingleMap", func(t *testing.T) {
		sqlStr, params := mustBuild(t, Table("users").Insert(map[string]any{"name": "ada", "age": 36}))
		assert.Equal(t, "INSERT INTO `users` (`age`, `name`) VALUES ($1, $2)", sqlStr)
		assert.Equal(t, []any{36, "ada"}, params)
	})

	t.Run("MultiRowReturning", func(t *testing.T) {
		sqlStr, params := mustBuild(t, New(pg(t)).Table("users").
			Insert([]map[string]any{{"name": "a"}, {"name": "b"}}).
			Returning("id"))
		assert.Equal(t, `INSERT INTO "users" ("name") VALUES ($1), ($2) RETURNING "id"`, sqlStr)
		assert.Equal(t, []any{"a", "b"}, params)
	})

	t.Run("Structs", func(t *testing.T) {
		type Widget struct {
			ID    int64  `db:"id,pk,auto"`
			Label string `db:"label"`
		}
		sqlStr, params := mustBuild(t, New(nil).Insert([]Widget{{Label: "x"}, {Label: "y"}}))
		assert.Equal(t, "INSERT INTO `widget` (`label`) VALUES ($1), ($2)", sqlStr)
		assert.Equal(t, []any{"x", "y"}, params)
	})

	t.Run("NoData", func(t *testing.T) {
		_, _, err := Table("users").Insert([]map[string]any{}).Build()
		assert.ErrorContains(t, err, "at least one row")

		_, _, err = Table("users").Insert(nil).Build()
		assert.ErrorIs(t, err, dberr.ErrInvalidQuery)
	})

	t.Run("MismatchedRows", func(t *testing.T) {
		_, _, err := Table("users").Insert([]map[string]any{{"a": 1}, {"b": 2}}).Build()
		assert.ErrorContains(t, err, "missing column")
	})

	t.Run("ReturningUnsupported", func(t *testing.T) {
		my, _ := dialect.Get("mysql")
		_, _, err := New(my).Table("users").Insert(map[string]any{"a": 1}).Returning("id").Build()
		assert.ErrorContains(t, err, "does not support RETURNING")
	})
}

func TestUpdate(t *testing.T) {
	sqlStr, params := mustBuild(t, Table("users").
		Where("id", 9).
		Update(map[string]any{"name": "bob", "age": 40}).
		Returning("id", "name"))
	assert.Equal(t, "UPDATE `users` SET `age` = $1, `name` = $2 WHERE `id` = $3 RETURNING `id`, `name`", sqlStr)
	assert.Equal(t, []any{40, "bob", 9}, params)

	_, _, err := Table("users").Update(map[string]any{}).Build()
	assert.ErrorContains(t, err, "at least one field")

	type Profile struct {
		ID        int       `db:"id,pk"`
		Bio       string    `db:"bio"`
		UpdatedAt time.Time `db:"updated_at,auto_update"`
	}
	sqlStr, params = mustBuild(t, New(nil).Update(Profile{ID: 1, Bio: "hi"}).Where("id", 1))
	assert.Equal(t, "UPDATE `profile` SET `bio` = $1, `updated_at` = $2 WHERE `id` = $3", sqlStr)
	assert.Len(t, params, 3)
}

func TestDelete(t *testing.T) {
	sqlStr, params := mustBuild(t, Table("sessions").Delete().Where("expires_at", "<", 100))
	assert.Equal(t, "DELETE FROM `sessions` WHERE `expires_at` < $1", sqlStr)
	assert.Equal(t, []any{100}, params)
}

func TestCount(t *testing.T) {
	base := Table("orders").Where("status", "paid").OrderBy("id").Limit(5).Offset(10).ForUpdate()

	sqlStr, params := mustBuild(t, base.Clone().Count(""))
	assert.Equal(t, "SELECT COUNT(*) AS `count` FROM `orders` WHERE `status` = $1", sqlStr)
	assert.Equal(t, []any{"paid"}, params)

	sqlStr, _ = mustBuild(t, Table("orders").Distinct().Count("user_id"))
	assert.Equal(t, "SELECT COUNT(DISTINCT `user_id`) AS `count` FROM `orders`", sqlStr)

	sqlStr, params = mustBuild(t, Table("orders").GroupBy("user_id").Having("SUM(total)", ">", 10).Count(""))
	assert.Equal(t, "SELECT COUNT(*) AS `count` FROM (SELECT `user_id` FROM `orders` GROUP BY `user_id` HAVING SUM(total) > $1) AS `grouped`", sqlStr)
	assert.Equal(t, []any{10}, params)

	sqlStr, params = mustBuild(t, Table("orders").Select("city").Distinct().Where("status", "paid").Count(""))
	assert.Equal(t, "SELECT COUNT(*) AS `count` FROM (SELECT DISTINCT `city` FROM `orders` WHERE `status` = $1) AS `grouped`", sqlStr)
	assert.Equal(t, []any{"paid"}, params)
}

func TestRaw(t *testing.T) {
	sqlStr, params := mustBuild(t, New(pg(t)).Raw("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?", 1, 2))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2", sqlStr)
	assert.Equal(t, []any{1, 2}, params)

	sqlStr, _ = mustBuild(t, New(pg(t)).Raw("SELECT $1::int", 5))
	assert.Equal(t, "SELECT $1::int", sqlStr)

	_, _, err := New(nil).Raw("SELECT ?", 1, 2).Build()
	assert.ErrorContains(t, err, "2 params")

	assert.True(t, New(nil).Raw("with x as (select 1) select * from x").ReturnsRows())
	assert.False(t, New(nil).Raw("UPDATE t SET a = 1").ReturnsRows())
	assert.True(t, New(nil).Raw("DELETE FROM t RETURNING id").ReturnsRows())
}

func TestKindLastCallWins(t *testing.T) {
	b := Table("t").Insert(map[string]any{"a": 1}).Delete()
	assert.Equal(t, KindDelete, b.Kind())
	assert.False(t, b.ReturnsRows())

	b = Table("t").Delete().Select("a")
	assert.Equal(t, KindSelect, b.Kind())
	assert.True(t, b.ReturnsRows())
}

func TestPaginate(t *testing.T) {
	a, ap := mustBuild(t, Table("t").Paginate(2, 10))
	b, bp := mustBuild(t, Table("t").Offset(10).Limit(10))
	assert.Equal(t, b, a)
	assert.Equal(t, bp, ap)

	sqlStr, params := mustBuild(t, Table("t").Paginate(0, 5))
	assert.Equal(t, "SELECT * FROM `t` LIMIT $1 OFFSET $2", sqlStr)
	assert.Equal(t, []any{5, 0}, params)

	_, _, err := Table("t").Paginate(1, 0).Build()
	assert.Error(t, err)
}

func TestFreezeAndClone(t *testing.T) {
	base := Table("users").Where("active", true)
	first, _ := mustBuild(t, base)

	base.Where("age", ">", 3)
	_, _, err := base.Build()
	assert.True(t, errors.Is(err, dberr.ErrBuilderFrozen))

	clone := Table("users").Where("active", true)
	page := clone.Clone().Paginate(3, 20)
	count := clone.Clone().Count("")

	cs, cp := mustBuild(t, clone)
	assert.Equal(t, first, cs)
	assert.Equal(t, []any{true}, cp)

	ps, pp := mustBuild(t, page)
	assert.True(t, strings.HasSuffix(ps, "LIMIT $2 OFFSET $3"))
	assert.Equal(t, []any{true, 20, 40}, pp)

	countSQL, _ := mustBuild(t, count)
	assert.True(t, strings.HasPrefix(countSQL, "SELECT COUNT(*)"))

	built := Table("t").Where("a", 1)
	mustBuild(t, built)
	again := built.Clone().Where("b", 2)
	s, p := mustBuild(t, again)
	assert.Equal(t, "SELECT * FROM `t` WHERE `a` = $1 AND `b` = $2", s)
	assert.Equal(t, []any{1, 2}, p)

	shared := AnyOf(EqOf("a", 1), EqOf("b", 2))
	orig := Table("t").Where(shared)
	copied := orig.Clone()
	shared.Or(EqOf("c", 3))
	s, p = mustBuild(t, copied)
	assert.Equal(t, "SELECT * FROM `t` WHERE `a` = $1 OR `b` = $2", s)
	assert.Equal(t, []any{1, 2}, p)
}

func TestPlaceholderOrderAcrossClauses(t *testing.T) {
	sqlStr, params := mustBuild(t, Table("t").
		Where("id", 5).
		Update(map[string]any{"a": "A"}))
	assert.Equal(t, "UPDATE `t` SET `a` = $1 WHERE `id` = $2", sqlStr)
	assert.Equal(t, []any{"A", 5}, params)
}
