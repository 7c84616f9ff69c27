package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nested() map[string]any {
	return map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": "x"},
		},
		"status": "FAILED",
		"count":  float64(3),
		"list":   []any{1, 2},
	}
}

func TestEvaluateValueCondition(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected any
		payload  any
		want     bool
	}{
		{name: "nested match", path: "a.b.c", expected: "x", payload: nested(), want: true},
		{name: "nested mismatch", path: "a.b.c", expected: "y", payload: nested(), want: false},
		{name: "leading dot", path: ".a.b.c", expected: "x", payload: nested(), want: true},
		{name: "missing intermediate", path: "a.z.c", expected: "x", payload: nested(), want: false},
		{name: "missing leaf", path: "a.b.d", expected: "x", payload: nested(), want: false},
		{name: "intermediate not a map", path: "status.code", expected: "x", payload: nested(), want: false},
		{name: "missing equals nil expected", path: "a.b.d", expected: nil, payload: nested(), want: true},
		{name: "int config matches json float", path: "count", expected: 3, payload: nested(), want: true},
		{name: "numeric mismatch", path: "count", expected: 4, payload: nested(), want: false},
		{name: "string is not number", path: "count", expected: "3", payload: nested(), want: false},
		{name: "slice value", path: "list", expected: []any{1, 2}, payload: nested(), want: true},
		{name: "non-map payload", path: "a", expected: "x", payload: []any{"a"}, want: false},
		{name: "nil payload", path: "a", expected: "x", payload: nil, want: false},
		{name: "empty path", path: "", expected: "x", payload: nested(), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := ValueCondition{FieldPath: tt.path, Expected: tt.expected}
			assert.Equal(t, tt.want, Evaluate(cond, tt.payload))
			assert.Equal(t, tt.want, Evaluate(&cond, tt.payload))
		})
	}
}

func TestEvaluateFunctionCondition(t *testing.T) {
	tests := []struct {
		name string
		fn   Predicate
		want bool
	}{
		{name: "true", fn: func(any) (bool, error) { return true, nil }, want: true},
		{name: "false", fn: func(any) (bool, error) { return false, nil }, want: false},
		{name: "error", fn: func(any) (bool, error) { return true, errors.New("boom") }, want: false},
		{name: "panic", fn: func(any) (bool, error) { panic("boom") }, want: false},
		{name: "nil func", fn: nil, want: false},
		{
			name: "reads payload",
			fn: func(p any) (bool, error) {
				v, _ := FieldValue(p, "status")
				return v == "FAILED", nil
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(FunctionCondition{Name: tt.name, Func: tt.fn}, nested()))
		})
	}
}

func TestEvaluateUnknownCondition(t *testing.T) {
	assert.False(t, Evaluate(nil, nested()))
	var vc *ValueCondition
	assert.False(t, Evaluate(vc, nested()))
}

func TestFieldValue(t *testing.T) {
	v, ok := FieldValue(nested(), "a.b")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"c": "x"}, v)

	_, ok = FieldValue(nested(), "a.b.c.d")
	assert.False(t, ok)
}

func TestDefaultPredicates(t *testing.T) {
	preds := DefaultPredicates()

	hasErrors, ok := preds.Lookup("has_errors")
	assert.True(t, ok)
	tests := []struct {
		payload any
		want    bool
	}{
		{map[string]any{"errors": []any{"x"}}, true},
		{map[string]any{"errors": []any{}}, false},
		{map[string]any{"errors": map[string]any{"f": "required"}}, true},
		{map[string]any{"errors": ""}, false},
		{map[string]any{"errors": nil}, false},
		{map[string]any{}, false},
	}
	for _, tt := range tests {
		got, err := hasErrors(tt.payload)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.payload)
	}

	isEmpty, ok := preds.Lookup("is_empty")
	assert.True(t, ok)
	assert.True(t, Evaluate(FunctionCondition{Func: isEmpty}, []any{}))
	assert.False(t, Evaluate(FunctionCondition{Func: isEmpty}, "text"))

	_, ok = preds.Lookup("missing")
	assert.False(t, ok)

	preds.Register("always", func(any) (bool, error) { return true, nil })
	_, ok = preds.Lookup("always")
	assert.True(t, ok)
}
