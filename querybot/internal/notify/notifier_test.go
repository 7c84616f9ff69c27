package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/querybot/common/audit"
	"github.com/telhawk-systems/querybot/common/messaging"
)

func sample() Notification {
	return Notification{
		ID:       "n-1",
		Endpoint: "orders.create",
		Status:   500,
		Key:      "42",
		Message:  "order failed",
		Text:     FormatText("", "orders.create", "42", 500, "order failed"),
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "with key", key: "42", want: "orders.create with pk 42 has ended with 500 and sends message: boom"},
		{name: "without key", want: "orders.create has ended with 500 and sends message: boom"},
		{name: "with prefix", prefix: "[prod]", key: "1", want: "[prod] orders.create with pk 1 has ended with 500 and sends message: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatText(tt.prefix, "orders.create", tt.key, 500, "boom"))
		})
	}
}

type fakeSender struct {
	chatID int64
	text   string
	err    error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.chatID, f.text = chatID, text
	return f.err
}

func TestChatNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewChatNotifier(sender, -1001)

	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Equal(t, int64(-1001), sender.chatID)
	assert.Equal(t, sample().Text, sender.text)

	sender.err = errors.New("forbidden")
	assert.ErrorContains(t, n.Notify(context.Background(), sample()), "forbidden")
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}
func (f *fakePublisher) PublishMsg(context.Context, *messaging.Message) error { return nil }
func (f *fakePublisher) Close() error { return nil }
func (f *fakePublisher) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, nil
}

func TestNATSNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "")

	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Equal(t, messaging.SubjectNotificationsGuard, pub.subject)

	var got Notification
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, sample(), got)
}

func TestWebhookNotifier(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		if received.Status == 599 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Equal(t, "n-1", received.ID)

	bad := sample()
	bad.Status = 599
	assert.ErrorContains(t, n.Notify(context.Background(), bad), "status 502")
}

func TestWebhookNotifierSignsRequests(t *testing.T) {
	signer := audit.NewSigner("shared-secret")
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		unix, err := strconv.ParseInt(r.Header.Get(audit.HeaderTimestamp), 10, 64)
		require.NoError(t, err)
		verified = signer.Verify(r.Header.Get(audit.HeaderID), time.Unix(unix, 0), body, r.Header.Get(audit.HeaderSignature))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second).SignWith(signer)
	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.True(t, verified)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Contains(t, buf.String(), `"endpoint":"orders.create"`)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Type() string { return "stub" }
func (s *stubNotifier) Notify(context.Context, Notification) error {
	s.calls++
	return s.err
}

func TestMultiNotifier(t *testing.T) {
	ok := &stubNotifier{}
	failing := &stubNotifier{err: errors.New("down")}

	require.NoError(t, NewMultiNotifier(failing, ok).Notify(context.Background(), sample()))
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)

	err := NewMultiNotifier(failing, &stubNotifier{err: errors.New("also down")}).Notify(context.Background(), sample())
	assert.ErrorContains(t, err, "all notifiers failed")

	assert.NoError(t, NewMultiNotifier().Notify(context.Background(), sample()))
}
