package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/telhawk-systems/querybot/querybot/internal/command"
	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
	"github.com/telhawk-systems/querybot/querybot/internal/query"
	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

// ResultFields is the projection of every listed record.
var ResultFields = []string{"id", "name", "status"}

// Kind classifies how a query was executed.
type Kind string

const (
	KindBuilt  Kind = "built"
	KindSaved  Kind = "saved"
	KindCustom Kind = "custom"
)

// Execution describes one executed query for auditing.
type Execution struct {
	Conversation string
	ChatID       int64
	Kind         Kind
	Query        query.Snapshot
	ResultCount  int
	Err          error
	Duration     time.Duration
	At           time.Time
}

// Recorder persists executions. Failures are logged, never surfaced.
type Recorder interface {
	Record(ctx context.Context, e Execution) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Execution) error { return nil }

// ReplyFunc sends a terminal reply with no keyboard. Record slices are
// rendered as lists, anything else as a preformatted value.
type ReplyFunc func(ctx context.Context, payload any) error

// Executor runs completed queries against the store.
type Executor struct {
	store          store.Store
	runner         command.Runner
	timestampField string
	recorder       Recorder
	logger         *slog.Logger
	now            func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRecorder reports every execution to r.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source of the lookback window.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor. timestampField names the record field
// the lookback window applies to.
func NewExecutor(s store.Store, runner command.Runner, timestampField string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:          s,
		runner:         runner,
		timestampField: timestampField,
		recorder:       nopRecorder{},
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs whatever qc selected: a saved filter, a custom command, or
// the built query.
func (e *Executor) Execute(ctx context.Context, conv Conversation, chatID int64, qc *query.Context, reply ReplyFunc) error {
	switch {
	case qc.SavedFilterSelected():
		name := qc.SavedFilter()
		e.logger.InfoContext(ctx, "saved filter", slog.String("collection", conv.Collection()), slog.String("filter", name))
		h, ok := conv.SavedFilter(name)
		if !ok {
			err := fmt.Errorf("%s not found: %w", name, ErrSavedFilterNotFound)
			e.record(ctx, Execution{Conversation: conv.Name(), ChatID: chatID, Kind: KindSaved, Query: qc.Snapshot(), Err: err})
			return err
		}
		return h(ctx, Scope{exec: e, conv: conv, chatID: chatID, reply: reply, kind: KindSaved, saved: name})

	case qc.CustomCommandSelected():
		e.logger.InfoContext(ctx, "custom command", slog.String("collection", conv.Collection()), slog.String("command", qc.CustomCommand()))
		e.ExecuteCommand(ctx, conv, chatID, qc.CustomCommand(), reply)
		return nil

	default:
		return e.run(ctx, conv, chatID, KindBuilt, qc.Snapshot(), reply)
	}
}

// ExecuteCommand runs a custom command and always replies, with the output
// or the error text. It reports whether the command succeeded.
func (e *Executor) ExecuteCommand(ctx context.Context, conv Conversation, chatID int64, name string, reply ReplyFunc) bool {
	exec := Execution{
		Conversation: conv.Name(),
		ChatID:       chatID,
		Kind:         KindCustom,
		Query:        query.Snapshot{Mode: query.ModeCustom, CustomCommand: name},
	}

	if !slices.Contains(conv.CustomCommandNames(), name) || e.runner == nil {
		e.send(ctx, reply, ReplyInvalidCommand)
		exec.Err = fmt.Errorf("%w: %s", command.ErrUnknownCommand, name)
		e.record(ctx, exec)
		return false
	}

	start := time.Now()
	out, err := e.runner.Run(ctx, name)
	exec.Duration = time.Since(start)
	metrics.QueryDuration.WithLabelValues(string(KindCustom)).Observe(exec.Duration.Seconds())

	if err != nil {
		exec.Err = err
		e.record(ctx, exec)
		e.send(ctx, reply, fmt.Sprintf("Error %s:\n%v", name, err))
		return false
	}
	e.record(ctx, exec)
	e.send(ctx, reply, fmt.Sprintf("Result %s:\n%s", name, out))
	return true
}

// run executes a built query and replies with its result.
func (e *Executor) run(ctx context.Context, conv Conversation, chatID int64, kind Kind, q query.Snapshot, reply ReplyFunc) error {
	start := time.Now()
	exec := Execution{Conversation: conv.Name(), ChatID: chatID, Kind: kind, Query: q, At: start}
	defer func() {
		exec.Duration = time.Since(start)
		metrics.QueryDuration.WithLabelValues(string(kind)).Observe(exec.Duration.Seconds())
		e.record(ctx, exec)
	}()

	e.logger.InfoContext(ctx, "lookup",
		slog.String("collection", conv.Collection()),
		slog.String("unit", string(q.Period.Unit)),
		slog.Int("quantity", q.Period.Quantity),
		slog.Int("filters", len(q.Filters)),
		slog.String("aggregate", string(q.Aggregate.Type)))

	coll, err := e.store.Collection(conv.Collection())
	if err != nil {
		exec.Err = err
		return err
	}

	preds := e.Predicates(q)

	switch q.Aggregate.Type {
	case query.AggregateCount:
		n, err := coll.Count(ctx, preds)
		if err != nil {
			exec.Err = fmt.Errorf("count %s: %w", conv.Collection(), err)
			return exec.Err
		}
		exec.ResultCount = n
		return reply(ctx, n)

	case query.AggregateSum:
		agg := store.Aggregation{Property: q.Aggregate.Property}
		result, err := coll.Aggregate(ctx, preds, agg)
		if err != nil {
			exec.Err = fmt.Errorf("sum %s.%s: %w", conv.Collection(), agg.Property, err)
			return exec.Err
		}
		value := result[agg.Key()]
		if value == nil {
			value = 0
		}
		exec.ResultCount = 1
		return reply(ctx, value)
	}

	records, err := coll.Filter(ctx, preds, ResultFields)
	if err != nil {
		exec.Err = fmt.Errorf("filter %s: %w", conv.Collection(), err)
		return exec.Err
	}
	exec.ResultCount = len(records)
	e.logger.InfoContext(ctx, "resulting records", slog.Int("count", len(records)))

	if len(records) == 0 {
		return reply(ctx, ReplyNothingFound)
	}
	return reply(ctx, records)
}

// Predicates translates a built query: a lookback window on the timestamp
// field followed by one equality per filter.
func (e *Executor) Predicates(q query.Snapshot) []store.Predicate {
	preds := make([]store.Predicate, 0, len(q.Filters)+1)
	preds = append(preds, store.After(e.timestampField, e.now().Add(-q.Period.Duration())))
	for _, f := range q.Filters {
		preds = append(preds, store.Eq(f.Field, f.Value))
	}
	return preds
}

func (e *Executor) send(ctx context.Context, reply ReplyFunc, payload any) {
	if err := reply(ctx, payload); err != nil {
		e.logger.WarnContext(ctx, "reply failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) record(ctx context.Context, exec Execution) {
	if exec.At.IsZero() {
		exec.At = time.Now()
	}
	metrics.QueriesTotal.WithLabelValues(exec.Conversation, string(exec.Kind), metrics.Outcome(exec.Err)).Inc()
	if err := e.recorder.Record(ctx, exec); err != nil {
		e.logger.WarnContext(ctx, "failed to record execution", slog.String("error", err.Error()))
	}
}

// Scope is handed to saved filter handlers.
type Scope struct {
	exec   *Executor
	conv   Conversation
	chatID int64
	reply  ReplyFunc
	kind   Kind
	saved  string
}

// Run executes q like a built query and replies with the result.
func (s Scope) Run(ctx context.Context, q query.Snapshot) error {
	q.SavedFilter = s.saved
	return s.exec.run(ctx, s.conv, s.chatID, s.kind, q, s.reply)
}

// Collection returns the store collection of the conversation.
func (s Scope) Collection() (store.Collection, error) {
	return s.exec.store.Collection(s.conv.Collection())
}

// Predicates builds the predicates of q using the configured timestamp field.
func (s Scope) Predicates(q query.Snapshot) []store.Predicate {
	return s.exec.Predicates(q)
}

// Reply sends a terminal reply to the chat.
func (s Scope) Reply(ctx context.Context, payload any) error {
	return s.reply(ctx, payload)
}
