package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateField(t *testing.T) {
	for _, ok := range []string{"id", "created_at", "_x", "meta.status", "a1"} {
		assert.NoError(t, ValidateField(ok), ok)
	}
	for _, bad := range []string{"", "1a", "name;drop", "a b", "a.", ".a", "x'--"} {
		assert.ErrorIs(t, ValidateField(bad), ErrInvalidField, bad)
	}
}

func TestValidatePredicates(t *testing.T) {
	now := time.Now()
	assert.NoError(t, ValidatePredicates([]Predicate{After("created_at", now), Eq("status", "failed")}))
	assert.ErrorIs(t, ValidatePredicates([]Predicate{{Field: "id", Op: "lt"}}), ErrUnsupportedOp)
	assert.ErrorIs(t, ValidatePredicates([]Predicate{Eq("bad field", 1)}), ErrInvalidField)
}

func TestAggregationKey(t *testing.T) {
	assert.Equal(t, "amount_sum", Aggregation{Property: "amount"}.Key())
}
