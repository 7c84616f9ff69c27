// Package store defines the record store boundary used by conversations.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Record is one row projected to the requested fields.
type Record = map[string]any

// Op is a predicate operator.
type Op string

const (
	OpEq Op = "eq"
	OpGt Op = "gt"
)

// Predicate constrains a field. Predicates in a list are AND-ed.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// After matches records whose timestamp field is strictly after t.
func After(field string, t time.Time) Predicate {
	return Predicate{Field: field, Op: OpGt, Value: t}
}

// Aggregation is a sum over Property.
type Aggregation struct {
	Property string
}

// Key is the name the aggregated value is returned under.
func (a Aggregation) Key() string {
	return a.Property + "_sum"
}

// Collection is a named set of records.
type Collection interface {
	// Filter returns matching records projected to fields.
	Filter(ctx context.Context, preds []Predicate, fields []string) ([]Record, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, preds []Predicate) (int, error)

	// Aggregate sums a property over matching records. The result is keyed
	// by Aggregation.Key and holds nil when nothing matched.
	Aggregate(ctx context.Context, preds []Predicate, agg Aggregation) (map[string]any, error)
}

// Store resolves collections by name.
type Store interface {
	Collection(name string) (Collection, error)
	Close() error
}

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidField      = errors.New("invalid field name")
	ErrUnsupportedOp     = errors.New("unsupported predicate operator")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateField rejects names that are unsafe to splice into a query.
// Dotted paths are accepted for document stores.
func ValidateField(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

// ValidatePredicates checks every predicate field and operator.
func ValidatePredicates(preds []Predicate) error {
	for _, p := range preds {
		if err := ValidateField(p.Field); err != nil {
			return err
		}
		if p.Op != OpEq && p.Op != OpGt {
			return fmt.Errorf("%w: %q", ErrUnsupportedOp, p.Op)
		}
	}
	return nil
}
