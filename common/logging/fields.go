package logging

import "log/slog"

// Field names shared by every querybot component.
const (
	FieldService      = "service"
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldChatID       = "chat_id"
	FieldConversation = "conversation"
	FieldState        = "state"
	FieldEndpoint     = "endpoint"
	FieldCommand      = "command"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func ChatID(id int64) slog.Attr {
	return slog.Int64(FieldChatID, id)
}

func Conversation(name string) slog.Attr {
	return slog.String(FieldConversation, name)
}

// State returns a slog attribute for a conversation state name.
func State(name string) slog.Attr {
	return slog.String(FieldState, name)
}

// Endpoint returns a slog attribute for a guarded HTTP endpoint name.
func Endpoint(name string) slog.Attr {
	return slog.String(FieldEndpoint, name)
}

func Command(name string) slog.Attr {
	return slog.String(FieldCommand, name)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
