package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/querybot/querybot/internal/command"
	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type replies struct {
	mu  sync.Mutex
	all []Reply
}

func (r *replies) Send(_ context.Context, rep Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, rep)
	return nil
}

func (r *replies) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *replies) last() Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Reply{}
	}
	return r.all[len(r.all)-1]
}

func (r *replies) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.all))
	for i, rep := range r.all {
		out[i] = rep.Text
	}
	return out
}

type call struct {
	op     string
	preds  []store.Predicate
	fields []string
	agg    store.Aggregation
}

// spyStore records every query and answers with canned results.
type spyStore struct {
	mu      sync.Mutex
	calls   []call
	records []store.Record
	count   int
	sum     map[string]any
	err     error
}

func (s *spyStore) Collection(name string) (store.Collection, error) {
	if name != "orders" {
		return nil, store.ErrUnknownCollection
	}
	return s, nil
}

func (s *spyStore) Close() error { return nil }

func (s *spyStore) Filter(_ context.Context, preds []store.Predicate, fields []string) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "filter", preds: preds, fields: fields})
	return s.records, s.err
}

func (s *spyStore) Count(_ context.Context, preds []store.Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "count", preds: preds})
	return s.count, s.err
}

func (s *spyStore) Aggregate(_ context.Context, preds []store.Predicate, agg store.Aggregation) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "aggregate", preds: preds, agg: agg})
	return s.sum, s.err
}

func (s *spyStore) recorded() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

type runnerFunc func(ctx context.Context, name string) (string, error)

func (f runnerFunc) Run(ctx context.Context, name string) (string, error) { return f(ctx, name) }

var _ command.Runner = runnerFunc(nil)

var errBoom = errors.New("boom")

type fixture struct {
	store   *spyStore
	replies *replies
	def     *Definition
	exec    *Executor
	machine *Machine
}

func newFixture(t *testing.T, opts ...MachineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:   &spyStore{},
		replies: &replies{},
		def:     NewDefinition("Orders", "orders"),
	}
	runner := runnerFunc(func(_ context.Context, name string) (string, error) {
		if name == "broken" {
			return "", errBoom
		}
		return "ok", nil
	})
	f.exec = NewExecutor(f.store, runner, "created_at", WithClock(func() time.Time { return testNow }))
	m, err := NewMachine(f.def, f.exec, f.replies, opts...)
	require.NoError(t, err)
	f.machine = m
	return f
}

func (f *fixture) start(t *testing.T, chatID int64) {
	t.Helper()
	require.NoError(t, f.machine.Start(context.Background(), Message{ChatID: chatID, MessageID: 1, Text: "/" + f.machine.Entrypoint()}))
}

// say feeds text from chatID and requires it to be accepted without error.
func (f *fixture) say(t *testing.T, chatID int64, texts ...string) {
	t.Helper()
	for i, text := range texts {
		handled, err := f.machine.HandleText(context.Background(), Message{ChatID: chatID, MessageID: i + 2, Text: text})
		require.NoError(t, err, text)
		require.True(t, handled, text)
	}
}
