package validator

import (
	"fmt"
	"reflect"
	"regexp"
)

// --- Required ---

type requiredRule struct {
	BaseRule
}

func (r *requiredRule) Validate(v any) error {
	if !r.ShouldValidate(v) {
		return nil
	}
	if isZeroValue(v) {
		return r.FormatError(fmt.Errorf("is required"))
	}
	return nil
}

func (r *requiredRule) Msg(msg string) Rule         { nr := *r; nr.SetMsg(msg); return &nr }
func (r *requiredRule) Optional() Rule              { nr := *r; nr.SetOptional(); return &nr }
func (r *requiredRule) When(fn func(any) bool) Rule { nr := *r; nr.SetWhen(fn); return &nr }

var Required Rule = &requiredRule{}

// --- Range ---

type rangeRule struct {
	BaseRule
	min, max float64
}

func (r *rangeRule) Validate(v any) error {
	if !r.ShouldValidate(v) {
		return nil
	}
	val, ok := toFloat(v)
	if !ok {
		return r.FormatError(fmt.Errorf("is not a number"))
	}
	if val < r.min || val > r.max {
		return r.FormatError(fmt.Errorf("value must be between %v and %v", r.min, r.max))
	}
	return nil
}

func (r *rangeRule) Msg(msg string) Rule         { nr := *r; nr.SetMsg(msg); return &nr }
func (r *rangeRule) Optional() Rule              { nr := *r; nr.SetOptional(); return &nr }
func (r *rangeRule) When(fn func(any) bool) Rule { nr := *r; nr.SetWhen(fn); return &nr }

// Range accepts numbers, including time.Duration, within [min, max].
func Range(min, max float64) Rule {
	return &rangeRule{min: min, max: max}
}

// --- Min ---

type minRule struct {
	BaseRule
	min float64
}

func (r *minRule) Validate(v any) error {
	if !r.ShouldValidate(v) {
		return nil
	}
	val, ok := toFloat(v)
	if !ok {
		return r.FormatError(fmt.Errorf("is not a number"))
	}
	if val < r.min {
		return r.FormatError(fmt.Errorf("value must be at least %v", r.min))
	}
	return nil
}

func (r *minRule) Msg(msg string) Rule         { nr := *r; nr.SetMsg(msg); return &nr }
func (r *minRule) Optional() Rule              { nr := *r; nr.SetOptional(); return &nr }
func (r *minRule) When(fn func(any) bool) Rule { nr := *r; nr.SetWhen(fn); return &nr }

func Min(min float64) Rule {
	return &minRule{min: min}
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// --- In ---

type inRule struct {
	BaseRule
	values []any
}

func (r *inRule) Validate(v any) error {
	if !r.ShouldValidate(v) {
		return nil
	}
	for _, val := range r.values {
		if reflect.DeepEqual(v, val) {
			return nil
		}
	}
	return r.FormatError(fmt.Errorf("must be one of %v", r.values))
}

func (r *inRule) Msg(msg string) Rule         { nr := *r; nr.SetMsg(msg); return &nr }
func (r *inRule) Optional() Rule              { nr := *r; nr.SetOptional(); return &nr }
func (r *inRule) When(fn func(any) bool) Rule { nr := *r; nr.SetWhen(fn); return &nr }

// In accepts values deeply equal to one of values. Values of a named string
// type must be given in that type.
func In(values ...any) Rule {
	return &inRule{values: values}
}

// --- Regexp ---

type regexpRule struct {
	BaseRule
	re *regexp.Regexp
}

func (r *regexpRule) Validate(v any) error {
	if !r.ShouldValidate(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return r.FormatError(fmt.Errorf("is not a string"))
	}
	if !r.re.MatchString(rv.String()) {
		return r.FormatError(fmt.Errorf("does not match %s", r.re))
	}
	return nil
}

func (r *regexpRule) Msg(msg string) Rule         { nr := *r; nr.SetMsg(msg); return &nr }
func (r *regexpRule) Optional() Rule              { nr := *r; nr.SetOptional(); return &nr }
func (r *regexpRule) When(fn func(any) bool) Rule { nr := *r; nr.SetWhen(fn); return &nr }

// Regexp panics if pattern does not compile.
func Regexp(pattern string) Rule {
	return &regexpRule{re: regexp.MustCompile(pattern)}
}
