package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Filter
		wantErr bool
	}{
		{name: "single", input: "status=failed", want: []Filter{{"status", "failed"}}},
		{name: "multiple keeps order", input: "status=failed,name=order-1", want: []Filter{{"status", "failed"}, {"name", "order-1"}}},
		{name: "value with equals", input: "note=a=b", want: []Filter{{"note", "a=b"}}},
		{name: "empty value", input: "status=", want: []Filter{{"status", ""}}},
		{name: "spaces trimmed", input: " status = failed , id=3", want: []Filter{{"status", "failed"}, {"id", "3"}}},
		{name: "missing equals", input: "status", wantErr: true},
		{name: "one bad segment", input: "status=failed,broken", wantErr: true},
		{name: "empty field", input: "=x", wantErr: true},
		{name: "empty input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilters(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFilter)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
