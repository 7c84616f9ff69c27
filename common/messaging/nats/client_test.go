package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/querybot/common/messaging"
	"github.com/telhawk-systems/querybot/common/middleware"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "querybot", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
}

func TestMessageConversionRoundTrip(t *testing.T) {
	in := &messaging.Message{
		Subject:  messaging.SubjectNotificationsGuard,
		Data:     []byte(`{"status":500}`),
		Reply:    "_INBOX.1",
		Metadata: map[string]string{middleware.RequestIDHeader: "req-1"},
	}

	out := natsToMessage(messageToNATS(in))

	assert.Equal(t, in.Subject, out.Subject)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, in.Reply, out.Reply)
	require.NotNil(t, out.Metadata)
	assert.Equal(t, "req-1", out.Metadata[middleware.RequestIDHeader])
	assert.False(t, out.Timestamp.IsZero())
}

func TestNatsToMessageWithoutHeaders(t *testing.T) {
	out := natsToMessage(&nats.Msg{Subject: "a.b", Data: []byte("x")})
	assert.Nil(t, out.Metadata)
}
