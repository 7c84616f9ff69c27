package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"service", Service("querybot"), FieldService, "querybot"},
		{"chat", ChatID(12345), FieldChatID, "12345"},
		{"conversation", Conversation("orders"), FieldConversation, "orders"},
		{"state", State("BUILD_PERIOD"), FieldState, "BUILD_PERIOD"},
		{"endpoint", Endpoint("POST /orders/{pk}"), FieldEndpoint, "POST /orders/{pk}"},
		{"command", Command("reindex"), FieldCommand, "reindex"},
		{"method", Method("POST"), FieldMethod, "POST"},
		{"path", Path("/healthz"), FieldPath, "/healthz"},
		{"status", Status(502), FieldStatus, "502"},
		{"duration", Duration(150), FieldDuration, "150"},
		{"error", Error(errors.New("boom")), FieldError, "boom"},
		{"nil error", Error(nil), FieldError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.String())
		})
	}
}
