// Package validator checks struct fields against declarative rules. It backs
// config validation.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValidationErrors maps field names to their validation errors.
type ValidationErrors map[string][]error

// Error lists the failures in field-name order.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var sb strings.Builder
	for _, field := range fields {
		for _, err := range v[field] {
			if sb.Len() > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(&sb, "%s: %v", field, err)
		}
	}
	return sb.String()
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	var out []error
	for _, errs := range v {
		out = append(out, errs...)
	}
	return out
}

// Add records err against field. A nil err is ignored.
func (v ValidationErrors) Add(field string, err error) {
	if err != nil {
		v[field] = append(v[field], err)
	}
}

// Merge copies other into v with every field name prefixed.
func (v ValidationErrors) Merge(prefix string, other error) {
	if other == nil {
		return
	}
	var ve ValidationErrors
	if !errors.As(other, &ve) {
		v.Add(prefix, other)
		return
	}
	for field, errs := range ve {
		v[prefix+"."+field] = append(v[prefix+"."+field], errs...)
	}
}

// Err returns v as an error, or nil when it holds no failures.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Rule is a single validation rule.
type Rule interface {
	Validate(value any) error
	Msg(msg string) Rule
	Optional() Rule
	When(fn func(value any) bool) Rule
}

// BaseRule provides the options shared by all rules.
type BaseRule struct {
	msg      string
	optional bool
	when     func(value any) bool
}

func (r *BaseRule) SetMsg(msg string) {
	r.msg = msg
}

func (r *BaseRule) SetOptional() {
	r.optional = true
}

func (r *BaseRule) SetWhen(fn func(value any) bool) {
	r.when = fn
}

// ShouldValidate checks the optional and when conditions.
func (r *BaseRule) ShouldValidate(value any) bool {
	if r.when != nil && !r.when(value) {
		return false
	}
	if r.optional {
		return !isZeroValue(value)
	}
	return true
}

// FormatError returns the custom message if set, otherwise defaultErr.
func (r *BaseRule) FormatError(defaultErr error) error {
	if r.msg != "" {
		return errors.New(r.msg)
	}
	return defaultErr
}

func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return rv.IsZero()
}

// Rules maps struct field names to the rules they must satisfy.
type Rules map[string][]Rule

// Validate checks value, a struct or pointer to struct, and returns
// ValidationErrors when any rule fails.
func (r Rules) Validate(value any) error {
	if value == nil {
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("validator: value must be a struct or pointer to struct, got %s", rv.Kind())
	}

	errs := make(ValidationErrors)
	for fieldName, rules := range r {
		field := rv.FieldByName(fieldName)
		if !field.IsValid() {
			errs.Add(fieldName, errors.New("no such field"))
			continue
		}
		val := field.Interface()
		for _, rule := range rules {
			errs.Add(fieldName, rule.Validate(val))
		}
	}
	return errs.Err()
}
