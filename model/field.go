package model

import (
	"reflect"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// Field represents a database column mapped from a struct field
type Field struct {
	Name       string       // Struct field name
	Column     string       // DB column name
	Type       reflect.Type // Field type
	Index      int          // Struct field index for fast access
	IsPK       bool         // Is primary key
	IsAuto     bool         // Is auto-increment
	AutoTime   bool         // Set time on insert
	AutoUpdate bool         // Set time on insert and update
	ReadOnly   bool         // Never written by INSERT or UPDATE
}

func (f *Field) isTime() bool {
	t := f.Type
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t == timeType
}
