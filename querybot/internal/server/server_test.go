package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/querybot/common/messaging"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/history"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

type staticSessions []conversation.Session

func (s staticSessions) Sessions() []conversation.Session { return s }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeHistory struct {
	entries []history.Entry
	err     error
	chatID  int64
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, chatID int64, limit int) ([]history.Entry, error) {
	f.chatID, f.limit = chatID, limit
	return f.entries, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent  []notify.Notification
}

func (r *recordingNotifier) Type() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

type fakeBroker struct {
	messaging.Client
	connected bool
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return &messaging.Message{}, nil
}

func serve(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := serve(t, New(staticSessions{}).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		status int
		checks map[string]any
	}{
		{
			name:   "no dependencies",
			status: http.StatusOK,
			checks: map[string]any{},
		},
		{
			name: "all healthy",
			opts: []Option{
				WithCheck("history", pingFunc(func(context.Context) error { return nil })),
				WithBroker(&fakeBroker{connected: true}),
			},
			status: http.StatusOK,
			checks: map[string]any{"history": "ok", "broker": "ok"},
		},
		{
			name: "database down",
			opts: []Option{
				WithCheck("history", pingFunc(func(context.Context) error { return errors.New("connection refused") })),
			},
			status: http.StatusServiceUnavailable,
			checks: map[string]any{"history": "connection refused"},
		},
		{
			name:   "broker disconnected",
			opts:   []Option{WithBroker(&fakeBroker{})},
			status: http.StatusServiceUnavailable,
			checks: map[string]any{"broker": "not connected to message broker"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, New(staticSessions{}, tt.opts...).Handler(), "/readyz")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.checks, body["checks"])
		})
	}
}

func TestMetrics(t *testing.T) {
	rec, _ := serve(t, New(staticSessions{}).Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListSessions(t *testing.T) {
	sessions := staticSessions{
		{Conversation: "orders", Entrypoint: "orders", Fallback: "cancel", State: "MODE_SELECTOR", ChatID: 3, Bound: true},
	}
	rec, body := serve(t, New(sessions).Handler(), "/api/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	list, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, "orders", first["conversation"])
	assert.Equal(t, "MODE_SELECTOR", first["state"])
	assert.Equal(t, float64(3), first["chat_id"])
}

func TestListHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec, body := serve(t, New(staticSessions{}).Handler(), "/api/v1/history/1")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "query history is disabled", body["error"])
	})

	t.Run("entries", func(t *testing.T) {
		h := &fakeHistory{entries: []history.Entry{{ID: "a", Conversation: "orders", ChatID: 42, Kind: "built"}}}
		rec, body := serve(t, New(staticSessions{}, WithHistory(h)).Handler(), "/api/v1/history/42?limit=500")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(42), h.chatID)
		assert.Equal(t, maxLimit, h.limit)
		assert.Len(t, body["entries"], 1)
	})

	t.Run("empty", func(t *testing.T) {
		h := &fakeHistory{}
		rec, body := serve(t, New(staticSessions{}, WithHistory(h)).Handler(), "/api/v1/history/7")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 20, h.limit)
		assert.Equal(t, []any{}, body["entries"])
	})

	t.Run("bad input", func(t *testing.T) {
		srv := New(staticSessions{}, WithHistory(&fakeHistory{})).Handler()
		rec, _ := serve(t, srv, "/api/v1/history/abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec, _ = serve(t, srv, "/api/v1/history/1?limit=0")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("repository error", func(t *testing.T) {
		h := &fakeHistory{err: errors.New("boom")}
		rec, body := serve(t, New(staticSessions{}, WithHistory(h)).Handler(), "/api/v1/history/1")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "failed to list history", body["error"])
	})
}

func TestGuardWatchesRoutes(t *testing.T) {
	rules := []notify.Rule{
		notify.NewRule(EndpointReady, []int{http.StatusServiceUnavailable},
			notify.ValueCondition{FieldPath: "checks.history", Expected: "connection refused"}, "database unreachable"),
		notify.NewRule(EndpointHistory, []int{http.StatusBadRequest}, nil, "bad history lookup"),
	}
	n := &recordingNotifier{}
	guard := notify.NewGuard(rules, n)

	h := New(staticSessions{},
		WithGuard(guard),
		WithHistory(&fakeHistory{}),
		WithCheck("history", pingFunc(func(context.Context) error { return errors.New("connection refused") })),
	).Handler()

	serve(t, h, "/readyz")
	serve(t, h, "/api/v1/history/abc")
	serve(t, h, "/healthz")
	guard.Wait()

	sent := n.all()
	require.Len(t, sent, 2)
	messages := []string{sent[0].Message, sent[1].Message}
	assert.ElementsMatch(t, []string{"database unreachable", "bad history lookup"}, messages)
	for _, s := range sent {
		if s.Endpoint == EndpointHistory {
			assert.Equal(t, "abc", s.Key)
		}
	}
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = parseLimit("5")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = parseLimit("-1")
	assert.Error(t, err)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: New(staticSessions{}).Handler()}

	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, srv, time.Second) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
