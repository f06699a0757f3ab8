package model

import (
	"strings"
)

// Tag represents a parsed `db` struct tag, e.g. `db:"column:user_id;pk;auto"`.
// A bare `db:"-"` excludes the field.
type Tag struct {
	Column     string
	PrimaryKey bool
	AutoInc    bool
	AutoTime   bool
	AutoUpdate bool
	ReadOnly   bool
	Ignore     bool
}

// ParseTag parses the "db" tag string
func ParseTag(tagStr string) *Tag {
	tag := &Tag{}
	tagStr = strings.TrimSpace(tagStr)
	if tagStr == "" {
		return tag
	}
	if tagStr == "-" {
		tag.Ignore = true
		return tag
	}

	// Support space, semicolon and comma as separators
	parts := strings.FieldsFunc(tagStr, func(r rune) bool {
		return r == ';' || r == ',' || r == ' '
	})

	for i, part := range parts {
		kv := strings.SplitN(part, ":", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}

		switch key {
		case "column":
			tag.Column = val
		case "pk", "primarykey", "primary_key":
			tag.PrimaryKey = true
		case "auto", "autoincrement":
			tag.AutoInc = true
		case "auto_time":
			tag.AutoTime = true
		case "auto_update":
			tag.AutoUpdate = true
		case "readonly", "->":
			tag.ReadOnly = true
		default:
			// `db:"user_id,pk"` names the column in first position
			if i == 0 && len(kv) == 1 {
				tag.Column = kv[0]
			}
		}
	}
	return tag
}
