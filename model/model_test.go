package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type UserAccount struct {
	ID        int64     `db:"column:id;pk;auto"`
	Name      string    `db:"column:name"`
	EmailAddr string    `db:"email"`
	CreatedAt time.Time `db:"auto_time"`
	UpdatedAt time.Time `db:"auto_update"`
	Version   int       `db:"readonly"`
	Scratch   string    `db:"-"`
	internal  string
}

type auditRow struct {
	Action string
}

func (auditRow) TableName() string { return "audit_log" }

func TestGetModel(t *testing.T) {
	m, err := GetModel(&UserAccount{})
	require.NoError(t, err)

	assert.Equal(t, "user_account", m.TableName)
	require.NotNil(t, m.PKField)
	assert.Equal(t, "id", m.PKField.Column)
	assert.Contains(t, m.FieldMap, "email")
	assert.Contains(t, m.FieldMap, "created_at")
	assert.NotContains(t, m.FieldMap, "scratch")
	assert.NotContains(t, m.FieldMap, "internal")

	again, err := GetModel(UserAccount{})
	require.NoError(t, err)
	assert.Same(t, m, again)

	audit, err := GetModel(auditRow{})
	require.NoError(t, err)
	assert.Equal(t, "audit_log", audit.TableName)

	_, err = GetModel(42)
	assert.Error(t, err)
	_, err = GetModel(nil)
	assert.Error(t, err)
}

func TestValues(t *testing.T) {
	m, err := GetModel(UserAccount{})
	require.NoError(t, err)

	u := UserAccount{Name: "ada", EmailAddr: "ada@example.com", Version: 7}

	ins, err := m.Values(&u, true)
	require.NoError(t, err)
	assert.NotContains(t, ins, "id", "zero auto-increment key is left to the database")
	assert.NotContains(t, ins, "version")
	assert.Equal(t, "ada", ins["name"])
	assert.IsType(t, time.Time{}, ins["created_at"])
	assert.False(t, ins["created_at"].(time.Time).IsZero())

	u.ID = 9
	upd, err := m.Values(u, false)
	require.NoError(t, err)
	assert.NotContains(t, upd, "id")
	assert.Equal(t, time.Time{}, upd["created_at"], "auto_time only applies on insert")
	assert.False(t, upd["updated_at"].(time.Time).IsZero())

	_, err = m.Values((*UserAccount)(nil), true)
	assert.Error(t, err)
}

func TestParseTag(t *testing.T) {
	tag := ParseTag("column:user_id;pk;auto")
	assert.Equal(t, "user_id", tag.Column)
	assert.True(t, tag.PrimaryKey)
	assert.True(t, tag.AutoInc)

	tag = ParseTag("user_id,pk")
	assert.Equal(t, "user_id", tag.Column)
	assert.True(t, tag.PrimaryKey)

	assert.True(t, ParseTag("-").Ignore)
	assert.Equal(t, &Tag{}, ParseTag(""))
}
