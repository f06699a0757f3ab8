package model

import (
	"fmt"
	"reflect"
	"sync"
	"time"
	"unicode"
)

// TagName is the struct tag read by GetModel.
const TagName = "db"

// Tabler is implemented by structs that name their own table.
type Tabler interface {
	TableName() string
}

// Model represents table metadata
type Model struct {
	TableName string
	Fields    []*Field
	FieldMap  map[string]*Field
	PKField   *Field
}

var modelCache sync.Map

// GetModel returns the model metadata for a given value
func GetModel(value any) (*Model, error) {
	if value == nil {
		return nil, fmt.Errorf("value is nil")
	}

	typ := reflect.TypeOf(value)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("value must be a struct or pointer to struct, got %s", typ.Kind())
	}

	if cached, ok := modelCache.Load(typ); ok {
		return cached.(*Model), nil
	}

	m := parseModel(typ)
	if t, ok := reflect.New(typ).Interface().(Tabler); ok {
		m.TableName = t.TableName()
	}

	actual, _ := modelCache.LoadOrStore(typ, m)
	return actual.(*Model), nil
}

func parseModel(typ reflect.Type) *Model {
	m := &Model{
		TableName: camelToSnake(typ.Name()),
		FieldMap:  make(map[string]*Field),
	}

	for i := 0; i < typ.NumField(); i++ {
		structField := typ.Field(i)
		if !structField.IsExported() {
			continue
		}

		tagStr := structField.Tag.Get(TagName)
		tag := ParseTag(tagStr)
		if tag.Ignore {
			continue
		}

		columnName := tag.Column
		if columnName == "" {
			columnName = camelToSnake(structField.Name)
		}

		field := &Field{
			Name:       structField.Name,
			Column:     columnName,
			Type:       structField.Type,
			Index:      i,
			IsPK:       tag.PrimaryKey,
			IsAuto:     tag.AutoInc,
			AutoTime:   tag.AutoTime,
			AutoUpdate: tag.AutoUpdate,
			ReadOnly:   tag.ReadOnly,
		}

		m.Fields = append(m.Fields, field)
		m.FieldMap[columnName] = field

		if field.IsPK {
			m.PKField = field
		}
	}

	return m
}

// Values extracts column values from a struct for an INSERT (forInsert) or an
// UPDATE. Auto-increment keys holding their zero value are skipped on insert,
// primary keys are skipped on update, read-only columns are always skipped, and
// auto_time / auto_update columns are stamped with the current time.
func (m *Model) Values(value any, forInsert bool) (map[string]any, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("value is a nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("value must be a struct, got %s", v.Kind())
	}

	now := time.Now()
	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		if f.ReadOnly {
			continue
		}
		fv := v.Field(f.Index)
		switch {
		case forInsert && f.IsAuto && fv.IsZero():
			continue
		case !forInsert && f.IsPK:
			continue
		case f.AutoUpdate, forInsert && f.AutoTime:
			if f.isTime() {
				out[f.Column] = now
				continue
			}
		}
		out[f.Column] = fv.Interface()
	}
	return out, nil
}

func camelToSnake(s string) string {
	if s == "ID" {
		return "id"
	}
	var res []rune
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rune(s[i-1])) || (i+1 < len(s) && unicode.IsLower(rune(s[i+1])))) {
				res = append(res, '_')
			}
			res = append(res, unicode.ToLower(r))
		} else {
			res = append(res, r)
		}
	}
	return string(res)
}
