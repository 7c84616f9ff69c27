// Package notify inspects outbound HTTP responses and raises chat
// notifications when a configured rule matches.
package notify

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// ConditionType names the kind of a Condition.
type ConditionType string

const (
	ConditionValue    ConditionType = "value"
	ConditionFunction ConditionType = "function"
)

// ConditionTypes lists the valid condition types in configuration order.
var ConditionTypes = []ConditionType{ConditionFunction, ConditionValue}

// Condition is either a ValueCondition or a FunctionCondition.
type Condition interface {
	Type() ConditionType
}

// ValueCondition matches when the value at FieldPath equals Expected.
type ValueCondition struct {
	FieldPath string
	Expected  any
}

func (ValueCondition) Type() ConditionType { return ConditionValue }

// Predicate inspects a decoded response body.
type Predicate func(payload any) (bool, error)

// FunctionCondition delegates the decision to a registered Predicate.
type FunctionCondition struct {
	Name string
	Func Predicate
}

func (FunctionCondition) Type() ConditionType { return ConditionFunction }

// Evaluate reports whether payload satisfies cond. It never panics: a
// failing or panicking predicate, an unresolved predicate, or an unknown
// condition all evaluate to false.
func Evaluate(cond Condition, payload any) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()

	switch c := cond.(type) {
	case ValueCondition:
		v, ok := FieldValue(payload, c.FieldPath)
		if !ok {
			return c.Expected == nil
		}
		return equal(v, c.Expected)
	case *ValueCondition:
		return c != nil && Evaluate(*c, payload)
	case FunctionCondition:
		if c.Func == nil {
			return false
		}
		ok, err := c.Func(payload)
		return err == nil && ok
	case *FunctionCondition:
		return c != nil && Evaluate(*c, payload)
	default:
		return false
	}
}

// FieldValue walks a dotted path through nested maps. A leading dot is
// ignored. It reports false when any segment is missing or an intermediate
// value is not a map.
func FieldValue(payload any, path string) (any, bool) {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil, false
	}

	current := payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equal compares decoded JSON against configured values. JSON numbers
// decode as float64 while configuration may hold ints, so numeric kinds
// compare by value.
func equal(actual, expected any) bool {
	if isNumber(actual) && isNumber(expected) {
		a, errA := cast.ToFloat64E(actual)
		e, errE := cast.ToFloat64E(expected)
		return errA == nil && errE == nil && a == e
	}
	return reflect.DeepEqual(actual, expected)
}

func isNumber(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Predicates resolves function condition names to implementations.
type Predicates map[string]Predicate

// Register adds or replaces a named predicate.
func (p Predicates) Register(name string, fn Predicate) {
	p[name] = fn
}

// Lookup returns the predicate registered under name.
func (p Predicates) Lookup(name string) (Predicate, bool) {
	fn, ok := p[name]
	return fn, ok && fn != nil
}

// DefaultPredicates returns the predicates available to configuration
// without registering custom code.
func DefaultPredicates() Predicates {
	return Predicates{
		"has_errors": func(payload any) (bool, error) {
			v, ok := FieldValue(payload, "errors")
			if !ok || v == nil {
				return false, nil
			}
			switch e := v.(type) {
			case []any:
				return len(e) > 0, nil
			case map[string]any:
				return len(e) > 0, nil
			case string:
				return e != "", nil
			default:
				return true, nil
			}
		},
		"is_empty": func(payload any) (bool, error) {
			switch p := payload.(type) {
			case nil:
				return true, nil
			case []any:
				return len(p) == 0, nil
			case map[string]any:
				return len(p) == 0, nil
			default:
				return false, fmt.Errorf("unsupported payload type %T", payload)
			}
		},
	}
}
