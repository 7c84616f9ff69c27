package render

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rows(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, map[string]any{
			"id":     i,
			"name":   fmt.Sprintf("%d_name", i),
			"status": fmt.Sprintf("%d_status", i),
		})
	}
	return out
}

func TestListSingleRow(t *testing.T) {
	got := List([]map[string]any{{"id": "id", "name": "name", "status": "pending"}})
	assert.Equal(t, "``` Total: 1\n- name (id): pending\n ```", got)
}

func TestListUpToLimitShowsEverything(t *testing.T) {
	for _, n := range []int{0, 1, 5, 10} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			got := List(rows(n))
			assert.True(t, strings.HasPrefix(got, fmt.Sprintf("``` Total: %d\n", n)))
			assert.True(t, strings.HasSuffix(got, " ```"))
			assert.Equal(t, n, strings.Count(got, "_name ("))
			assert.NotContains(t, got, "more ...")
		})
	}
}

func TestListTruncatesLargeSets(t *testing.T) {
	tests := []struct {
		n    int
		more int
	}{
		{11, 1},
		{14, 4},
		{100, 90},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			got := List(rows(tt.n))
			assert.True(t, strings.HasPrefix(got, fmt.Sprintf("``` Total: %d\n", tt.n)))
			assert.True(t, strings.HasSuffix(got, fmt.Sprintf("- ... and %d more ...```", tt.more)))
			assert.Equal(t, 9, strings.Count(got, "_name ("))
			assert.Contains(t, got, "- 9_name (9): 9_status")
			assert.NotContains(t, got, "10_name")
		})
	}
}

func TestListMissingFields(t *testing.T) {
	got := List([]map[string]any{{"id": 7}})
	assert.Equal(t, "``` Total: 1\n-  (7): \n ```", got)
}

func TestValue(t *testing.T) {
	assert.Equal(t, "``` End of conversation ```", Value("End of conversation"))
	assert.Equal(t, "``` 42 ```", Value(42))
	assert.Equal(t, "``` 12.5 ```", Value(12.5))
}

func TestError(t *testing.T) {
	assert.Equal(t, "*ERR*: ``` boom ```", Error(errors.New("boom")))
}
