package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
	"github.com/telhawk-systems/querybot/querybot/internal/query"
	"github.com/telhawk-systems/querybot/querybot/internal/render"
	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

// ErrInvalidSuffix is returned by NewMachine for a malformed command suffix.
var ErrInvalidSuffix = errors.New("invalid command suffix")

// errCrossTalk marks a message from a chat the machine is not bound to.
var errCrossTalk = errors.New("message from unbound chat")

var suffixPattern = regexp.MustCompile(`(?i)^[a-z0-9_]{1,32}$`)

// DefaultFallbackName is the cancel command before the suffix is applied.
const DefaultFallbackName = "cancel"

var (
	modeKeyboard = Keyboard{
		{string(query.ModeBuild)},
		{string(query.ModeSaved)},
		{string(query.ModeCustom)},
	}
	periodKeyboard    = Keyboard{{string(query.Days), string(query.Weeks), string(query.Hours)}}
	yesNoKeyboard     = Keyboard{{Yes}, {No}}
	aggregateKeyboard = Keyboard{{string(query.AggregateCount), string(query.AggregateSum)}}
)

// transition handles one message in one state and returns the next state.
type transition func(ctx context.Context, msg Message) (State, error)

type route struct {
	// accept selects the messages the state accepts; nil accepts any text.
	accept func(text string) bool
	fn     transition
}

// Machine drives one conversation for one chat at a time.
type Machine struct {
	conv       Conversation
	exec       *Executor
	sender     Sender
	logger     *slog.Logger
	suffix     string
	entrypoint string
	fallback   string
	routes     map[State]route

	mu     sync.Mutex
	chatID int64
	bound  bool
	state  State
	qc     query.Context
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithSuffix appends "_<suffix>" to the entry and cancel commands.
func WithSuffix(suffix string) MachineOption {
	return func(m *Machine) { m.suffix = suffix }
}

// WithLogger sets the machine's logger.
func WithLogger(l *slog.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// NewMachine builds the machine for conv. A non-empty suffix must be 1 to 32
// letters, digits or underscores.
func NewMachine(conv Conversation, exec *Executor, sender Sender, opts ...MachineOption) (*Machine, error) {
	m := &Machine{
		conv:   conv,
		exec:   exec,
		sender: sender,
		logger: slog.Default(),
		state:  End,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.suffix != "" && !suffixPattern.MatchString(m.suffix) {
		return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidSuffix, m.suffix, suffixPattern)
	}

	m.logger = m.logger.With(slog.String("component", "conversation"), slog.String("conversation", conv.Name()))
	m.entrypoint = m.withSuffix(strings.ToLower(conv.Name()))
	m.fallback = m.withSuffix(DefaultFallbackName)
	m.routes = m.buildRoutes()
	return m, nil
}

func (m *Machine) withSuffix(name string) string {
	if m.suffix == "" {
		return name
	}
	return name + "_" + strings.ToLower(m.suffix)
}

func (m *Machine) buildRoutes() map[State]route {
	yesNo := matches(`^(` + Yes + `|` + No + `)$`)
	table := map[State]route{
		ModeSelector: {
			accept: matches(`^(` + regexp.QuoteMeta(string(query.ModeBuild)) + `|` +
				regexp.QuoteMeta(string(query.ModeSaved)) + `|` + regexp.QuoteMeta(string(query.ModeCustom)) + `)$`),
			fn: m.selectMode,
		},
		BuildPeriod: {
			accept: matches(`^(` + string(query.Days) + `|` + string(query.Weeks) + `|` + string(query.Hours) + `)$`),
			fn:     m.selectPeriodUnit,
		},
		BuildPeriodQuantity:     {accept: matches(`^\d+$`), fn: m.enterPeriodQuantity},
		BuildFiltersYesNo:       {accept: yesNo, fn: m.chooseFilters},
		BuildFilters:            {fn: m.enterFilters},
		BuildAggregateYesNo:     {accept: yesNo, fn: m.chooseAggregate},
		BuildAggregate:          {fn: m.selectAggregate},
		BuildAggregateSumProp:   {fn: m.enterSumProperty},
		SavedFilterSelect:       {accept: oneOf(m.conv.SavedFilterNames), fn: m.selectSavedFilter},
		CustomMgmtCommandSelect: {accept: oneOf(m.conv.CustomCommandNames), fn: m.selectCustomCommand},
	}
	for state, r := range table {
		r.fn = m.wrap(state, r.fn)
		table[state] = r
	}
	return table
}

func matches(pattern string) func(string) bool {
	return regexp.MustCompile(pattern).MatchString
}

// oneOf matches exactly one of the names current when the message arrives.
// Saved filters and commands registered after the machine is built stay
// selectable.
func oneOf(names func() []string) func(string) bool {
	return func(text string) bool {
		return slices.Contains(names(), text)
	}
}

// wrap applies the affinity guard, transition logging and metrics to fn.
func (m *Machine) wrap(from State, fn transition) transition {
	return m.guardAffinity(m.logTransition(from, m.countTransition(from, fn)))
}

func (m *Machine) guardAffinity(next transition) transition {
	return func(ctx context.Context, msg Message) (State, error) {
		if !m.bound || msg.ChatID != m.chatID {
			metrics.CrossTalkDropped.WithLabelValues(m.conv.Name()).Inc()
			m.logger.DebugContext(ctx, "message dropped",
				slog.Int64("chat_id", msg.ChatID),
				slog.Int64("bound_chat_id", m.chatID))
			return m.state, errCrossTalk
		}
		return next(ctx, msg)
	}
}

func (m *Machine) logTransition(from State, next transition) transition {
	return func(ctx context.Context, msg Message) (State, error) {
		to, err := next(ctx, msg)
		attrs := []any{
			slog.Int64("chat_id", msg.ChatID),
			slog.String("input", msg.Text),
			slog.String("from", from.String()),
			slog.String("state", to.String()),
		}
		if err != nil {
			m.logger.WarnContext(ctx, "transition failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			m.logger.InfoContext(ctx, "transition", attrs...)
		}
		return to, err
	}
}

func (m *Machine) countTransition(from State, next transition) transition {
	return func(ctx context.Context, msg Message) (State, error) {
		to, err := next(ctx, msg)
		metrics.TransitionsTotal.WithLabelValues(m.conv.Name(), from.String(), to.String()).Inc()
		return to, err
	}
}

// Conversation returns the conversation the machine drives.
func (m *Machine) Conversation() Conversation { return m.conv }

// Entrypoint is the command that starts a session.
func (m *Machine) Entrypoint() string { return m.entrypoint }

// Fallback is the command that cancels a session.
func (m *Machine) Fallback() string { return m.fallback }

// SetEntrypointName replaces the entry command. The suffix is not applied.
func (m *Machine) SetEntrypointName(name string) { m.entrypoint = strings.ToLower(name) }

// SetFallbackName replaces the cancel command. The suffix is not applied.
func (m *Machine) SetFallbackName(name string) { m.fallback = strings.ToLower(name) }

// State returns the current state. An idle machine is in End.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ChatID returns the bound chat.
func (m *Machine) ChatID() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID, m.bound
}

// Snapshot copies the query context of the current session.
func (m *Machine) Snapshot() query.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qc.Snapshot()
}

// Start binds the machine to the chat of msg, resets the query context and
// shows the mode menu. A session bound to another chat is taken over.
func (m *Machine) Start(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	m.qc.Reset()
	m.bind(msg.ChatID)
	m.state = ModeSelector
	metrics.TransitionsTotal.WithLabelValues(m.conv.Name(), from.String(), m.state.String()).Inc()
	m.logger.InfoContext(ctx, "conversation started", slog.Int64("chat_id", msg.ChatID), slog.String("command", m.entrypoint))

	return m.reply(ctx, msg, ReplyModeSelect, modeKeyboard)
}

// Cancel ends the session of the chat of msg. It reports false when the
// machine is bound to a different chat. Cancelling an idle machine replies
// the same way as cancelling an active one.
func (m *Machine) Cancel(ctx context.Context, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bound && msg.ChatID != m.chatID {
		metrics.CrossTalkDropped.WithLabelValues(m.conv.Name()).Inc()
		return false, nil
	}
	from := m.state
	m.unbind()
	m.state = End
	metrics.TransitionsTotal.WithLabelValues(m.conv.Name(), from.String(), End.String()).Inc()
	m.logger.InfoContext(ctx, "conversation cancelled", slog.Int64("chat_id", msg.ChatID), slog.String("from", from.String()))

	return true, m.sender.Send(ctx, Reply{
		ChatID:           msg.ChatID,
		Text:             ReplyEnd,
		ParseMode:        ParseModeMarkdown,
		ReplyToMessageID: msg.MessageID,
	})
}

// HandleText feeds a plain text message to the current state. It reports
// false when the message was not for this machine or the state does not
// accept the text. A failed turn ends the session, except for filter syntax
// errors and out of range quantities which leave the operator in the same
// step.
func (m *Machine) HandleText(ctx context.Context, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routes[m.state]
	if !ok {
		return false, nil
	}
	if r.accept != nil && !r.accept(msg.Text) {
		m.logger.DebugContext(ctx, "message not accepted", slog.String("state", m.state.String()), slog.String("input", msg.Text))
		return false, nil
	}

	next, err := r.fn(ctx, msg)
	if errors.Is(err, errCrossTalk) {
		return false, nil
	}
	m.state = next
	if next == End {
		m.unbind()
	}
	return true, err
}

func (m *Machine) bind(chatID int64) {
	if !m.bound {
		metrics.ActiveSessions.Inc()
	}
	m.chatID = chatID
	m.bound = true
}

func (m *Machine) unbind() {
	if m.bound {
		metrics.ActiveSessions.Dec()
	}
	m.chatID = 0
	m.bound = false
}

// reply sends text to the bound chat. A nil keyboard removes the current one.
func (m *Machine) reply(ctx context.Context, msg Message, text string, kb Keyboard) error {
	return m.sender.Send(ctx, Reply{
		ChatID:           m.chatID,
		Text:             text,
		Keyboard:         kb,
		ParseMode:        ParseModeMarkdown,
		ReplyToMessageID: msg.MessageID,
	})
}

// result renders a query result for the chat of msg.
func (m *Machine) result(msg Message) ReplyFunc {
	chatID := m.chatID
	return func(ctx context.Context, payload any) error {
		var text string
		switch v := payload.(type) {
		case []store.Record:
			text = render.List(v)
		default:
			text = render.Value(v)
		}
		return m.sender.Send(ctx, Reply{
			ChatID:           chatID,
			Text:             text,
			ParseMode:        ParseModeMarkdown,
			ReplyToMessageID: msg.MessageID,
		})
	}
}

// execute runs the query and closes the session.
func (m *Machine) execute(ctx context.Context, msg Message) (State, error) {
	if err := m.exec.Execute(ctx, m.conv, m.chatID, &m.qc, m.result(msg)); err != nil {
		return End, err
	}
	return End, m.reply(ctx, msg, ReplyEnd, nil)
}

func (m *Machine) selectMode(ctx context.Context, msg Message) (State, error) {
	mode := query.Mode(msg.Text)
	m.qc.SetMode(mode)

	switch mode {
	case query.ModeSaved:
		names := m.conv.SavedFilterNames()
		if len(names) == 0 {
			return End, m.reply(ctx, msg, ReplyNoSaved, nil)
		}
		return SavedFilterSelect, m.reply(ctx, msg, ReplySelectSaved, Keyboard{names})
	case query.ModeCustom:
		names := m.conv.CustomCommandNames()
		if len(names) == 0 {
			return End, m.reply(ctx, msg, ReplyNoCommands, nil)
		}
		return CustomMgmtCommandSelect, m.reply(ctx, msg, ReplySelectCommand, Keyboard{names})
	default:
		return BuildPeriod, m.reply(ctx, msg, ReplyPeriodUnit, periodKeyboard)
	}
}

func (m *Machine) selectPeriodUnit(ctx context.Context, msg Message) (State, error) {
	m.qc.SetPeriodUnit(query.PeriodUnit(msg.Text))
	return BuildPeriodQuantity, m.reply(ctx, msg, ReplyPeriodQuantity, nil)
}

func (m *Machine) enterPeriodQuantity(ctx context.Context, msg Message) (State, error) {
	if err := m.qc.SetPeriodQuantity(msg.Text); err != nil {
		return BuildPeriodQuantity, errors.Join(err, m.reply(ctx, msg, ReplyQuantityTooLarge, nil))
	}
	return BuildFiltersYesNo, m.reply(ctx, msg, ReplyFiltersYesNo, yesNoKeyboard)
}

func (m *Machine) chooseFilters(ctx context.Context, msg Message) (State, error) {
	if msg.Text == Yes {
		return BuildFilters, m.reply(ctx, msg, ReplyProvideFilters, nil)
	}
	return BuildAggregateYesNo, m.reply(ctx, msg, ReplyAggregateYesNo, yesNoKeyboard)
}

func (m *Machine) enterFilters(ctx context.Context, msg Message) (State, error) {
	filters, err := query.ParseFilters(msg.Text)
	if err != nil {
		return BuildFilters, err
	}
	for _, f := range filters {
		m.qc.AddFilter(f.Field, f.Value)
	}
	return BuildAggregateYesNo, m.reply(ctx, msg, ReplyAggregateYesNo, yesNoKeyboard)
}

func (m *Machine) chooseAggregate(ctx context.Context, msg Message) (State, error) {
	if msg.Text == Yes {
		return BuildAggregate, m.reply(ctx, msg, ReplySelectAggregate, aggregateKeyboard)
	}
	return m.execute(ctx, msg)
}

func (m *Machine) selectAggregate(ctx context.Context, msg Message) (State, error) {
	switch query.AggregateType(msg.Text) {
	case query.AggregateCount:
		m.qc.SetAggregateType(query.AggregateCount)
		return m.execute(ctx, msg)
	case query.AggregateSum:
		m.qc.SetAggregateType(query.AggregateSum)
		return BuildAggregateSumProp, m.reply(ctx, msg, ReplySumProperty, nil)
	default:
		return End, m.reply(ctx, msg, ReplyEnd, nil)
	}
}

func (m *Machine) enterSumProperty(ctx context.Context, msg Message) (State, error) {
	m.qc.SetAggregateProperty(strings.TrimSpace(msg.Text))
	return m.execute(ctx, msg)
}

func (m *Machine) selectSavedFilter(ctx context.Context, msg Message) (State, error) {
	m.qc.SetSavedFilter(msg.Text)
	return m.execute(ctx, msg)
}

func (m *Machine) selectCustomCommand(ctx context.Context, msg Message) (State, error) {
	m.qc.SetCustomCommand(msg.Text)
	return m.execute(ctx, msg)
}
