package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
)

const (
	defaultMaxBody     = 1 << 20
	defaultSendTimeout = 10 * time.Second
)

// Guard is HTTP middleware that matches every response against the rules
// and notifies in the background when one matches. The response itself is
// passed through untouched.
type Guard struct {
	rules       []Rule
	notifier    Notifier
	prefix      string
	logger      *slog.Logger
	maxBody     int
	sendTimeout time.Duration
	wg          sync.WaitGroup
}

// Option configures a Guard.
type Option func(*Guard)

// WithPrefix decorates every notification text, e.g. with a deployment name.
func WithPrefix(prefix string) Option {
	return func(g *Guard) { g.prefix = prefix }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithMaxBody caps how much of a response body is buffered for evaluation.
// Larger bodies are not evaluated.
func WithMaxBody(n int) Option {
	return func(g *Guard) { g.maxBody = n }
}

// WithSendTimeout bounds each delivery. Zero keeps the default.
func WithSendTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.sendTimeout = d
		}
	}
}

// NewGuard builds a Guard. rules keep their configuration order.
func NewGuard(rules []Rule, notifier Notifier, opts ...Option) *Guard {
	g := &Guard{
		rules:       append([]Rule(nil), rules...),
		notifier:    notifier,
		logger:      slog.Default(),
		maxBody:     defaultMaxBody,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "notify"))
	return g
}

// Rules returns a copy of the configured rules.
func (g *Guard) Rules() []Rule {
	return append([]Rule(nil), g.rules...)
}

// Wait blocks until every in-flight notification has finished.
func (g *Guard) Wait() {
	g.wg.Wait()
}

type routeKey struct{}

type route struct {
	name string
	key  string
}

// Named labels the endpoint served by h. The label takes precedence over
// route patterns when rules are matched.
func Named(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt, ok := r.Context().Value(routeKey{}).(*route); ok {
			rt.name = name
			rt.key = pathKey(r)
		}
		h.ServeHTTP(w, r)
	})
}

// Middleware wraps next with the guard.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if len(g.rules) == 0 || g.notifier == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := &route{}
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, rt))
		rec := &teeWriter{ResponseWriter: w, max: g.maxBody}

		next.ServeHTTP(rec, r)

		g.inspect(r, rt, rec)
	})
}

func (g *Guard) inspect(r *http.Request, rt *route, rec *teeWriter) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(r.Context(), "guard evaluation panicked", slog.Any("panic", p))
		}
	}()

	status := rec.statusCode()
	if SkipStatus(status) {
		metrics.GuardEvaluations.WithLabelValues("skipped").Inc()
		return
	}

	endpoint, key := resolveEndpoint(r, rt)
	payload := rec.payloadFunc()

	rule := Match(g.rules, endpoint, status, payload)
	if rule == nil {
		metrics.GuardEvaluations.WithLabelValues("unmatched").Inc()
		return
	}
	metrics.GuardEvaluations.WithLabelValues("matched").Inc()

	n := Notification{
		ID:       uuid.NewString(),
		Endpoint: endpoint,
		Status:   status,
		Key:      key,
		Message:  rule.Message,
		Text:     FormatText(g.prefix, endpoint, key, status, rule.Message),
		Time:     time.Now().UTC(),
	}
	g.send(r.Context(), n)
}

// send delivers n in the background. Errors and panics are logged only.
func (g *Guard) send(parent context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), g.sendTimeout)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				metrics.NotificationsTotal.WithLabelValues(g.notifier.Type(), metrics.OutcomeError).Inc()
				g.logger.ErrorContext(ctx, "notifier panicked", slog.Any("panic", p))
			}
		}()

		err := g.notifier.Notify(ctx, n)
		metrics.NotificationsTotal.WithLabelValues(g.notifier.Type(), metrics.Outcome(err)).Inc()
		if err != nil {
			g.logger.WarnContext(ctx, "notification not delivered",
				slog.String("endpoint", n.Endpoint),
				slog.Int("status", n.Status),
				slog.String("error", err.Error()))
			return
		}
		g.logger.DebugContext(ctx, "notification delivered",
			slog.String("id", n.ID),
			slog.String("endpoint", n.Endpoint))
	}()
}

// resolveEndpoint picks the endpoint name: an explicit Named label, then
// the chi route pattern, then the net/http pattern, then the URL path.
func resolveEndpoint(r *http.Request, rt *route) (string, string) {
	if rt.name != "" {
		return rt.name, rt.key
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			key := rctx.URLParam("pk")
			if key == "" {
				key = rctx.URLParam("id")
			}
			return pattern, key
		}
	}
	if r.Pattern != "" {
		return r.Pattern, pathKey(r)
	}
	return r.URL.Path, ""
}

func pathKey(r *http.Request) string {
	if key := chi.URLParam(r, "pk"); key != "" {
		return key
	}
	if key := chi.URLParam(r, "id"); key != "" {
		return key
	}
	if key := r.PathValue("pk"); key != "" {
		return key
	}
	return r.PathValue("id")
}

// teeWriter passes the response through while keeping a bounded copy of
// the body.
type teeWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (t *teeWriter) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *teeWriter) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	if !t.overflow {
		if t.buf.Len()+len(p) > t.max {
			t.overflow = true
			t.buf.Reset()
		} else {
			t.buf.Write(p)
		}
	}
	return t.ResponseWriter.Write(p)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (t *teeWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

func (t *teeWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *teeWriter) statusCode() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// payloadFunc decodes the buffered body at most once, and only for JSON.
func (t *teeWriter) payloadFunc() PayloadFunc {
	var (
		once       sync.Once
		payload    any
		structured bool
	)
	return func() (any, bool) {
		once.Do(func() {
			if t.overflow || !isJSON(t.Header().Get("Content-Type")) {
				return
			}
			if err := json.Unmarshal(t.buf.Bytes(), &payload); err != nil {
				payload = nil
				return
			}
			structured = true
		})
		return payload, structured
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
