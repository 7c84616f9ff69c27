// Package server exposes the operational HTTP surface of the bot: health,
// readiness, metrics and a read-only view of sessions and query history.
// Every response passes through the notification guard.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/querybot/common/messaging"
	"github.com/telhawk-systems/querybot/common/middleware"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/history"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

const (
	// EndpointHistory is the guard label of the history endpoint.
	EndpointHistory = "history"
	// EndpointReady is the guard label of the readiness endpoint.
	EndpointReady = "readiness"

	checkTimeout = 2 * time.Second
	maxLimit     = 100
)

// Pinger is a dependency whose connectivity gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HistoryReader lists recorded executions of a chat.
type HistoryReader interface {
	Recent(ctx context.Context, chatID int64, limit int) ([]history.Entry, error)
}

// SessionLister reports the live conversation sessions.
type SessionLister interface {
	Sessions() []conversation.Session
}

// Server serves the ops API.
type Server struct {
	sessions SessionLister
	history  HistoryReader
	broker   messaging.Client
	checks   map[string]Pinger
	guard    *notify.Guard
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the history endpoint.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithBroker adds the message broker to the readiness checks.
func WithBroker(c messaging.Client) Option {
	return func(s *Server) { s.broker = c }
}

// WithCheck adds a named readiness check.
func WithCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

// WithGuard wraps every route with the notification guard.
func WithGuard(g *notify.Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(sessions SessionLister, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		checks:   make(map[string]Pinger),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "server"))
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if s.guard != nil {
		r.Use(s.guard.Middleware)
	}

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/readyz", notify.Named(EndpointReady, http.HandlerFunc(s.ready)))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", s.listSessions)
		r.Method(http.MethodGet, "/history/{id}", notify.Named(EndpointHistory, http.HandlerFunc(s.listHistory)))
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.checks)+1)
	ready := true

	for name, p := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			ready = false
			results[name] = err.Error()
			s.logger.WarnContext(r.Context(), "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		results[name] = "ok"
	}

	if s.broker != nil {
		status := messaging.CheckClientHealth(r.Context(), s.broker)
		if status.Healthy() {
			results["broker"] = "ok"
		} else {
			ready = false
			results["broker"] = status.Error
		}
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Sessions()})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "query history is disabled")
		return
	}

	chatID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chat id must be an integer")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.history.Recent(r.Context(), chatID, limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list history",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "entries": entries})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 20, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
