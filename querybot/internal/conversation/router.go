package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
	"github.com/telhawk-systems/querybot/querybot/internal/render"
)

// CommandsCommand lists the entry command of every conversation.
const CommandsCommand = "commands"

// Router dispatches inbound messages to the machines that own them.
type Router struct {
	machines []*Machine
	entry    map[string]*Machine
	sender   Sender
	logger   *slog.Logger
}

// NewRouter indexes machines by command. Two machines claiming the same
// entry command is an error.
func NewRouter(sender Sender, logger *slog.Logger, machines ...*Machine) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		machines: machines,
		entry:    make(map[string]*Machine, len(machines)),
		sender:   sender,
		logger:   logger.With(slog.String("component", "router")),
	}
	for _, m := range machines {
		name := m.Entrypoint()
		if name == CommandsCommand {
			return nil, fmt.Errorf("entry command %q is reserved", name)
		}
		if _, dup := r.entry[name]; dup {
			return nil, fmt.Errorf("entry command %q registered twice", name)
		}
		r.entry[name] = m
	}
	return r, nil
}

// Commands returns the entry command of every machine in registration order.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.machines))
	for _, m := range r.machines {
		names = append(names, m.Entrypoint())
	}
	return names
}

// Session describes the live state of one machine.
type Session struct {
	Conversation string `json:"conversation"`
	Entrypoint   string `json:"entrypoint"`
	Fallback     string `json:"fallback"`
	State        string `json:"state"`
	ChatID       int64  `json:"chat_id,omitempty"`
	Bound        bool   `json:"bound"`
}

// Sessions reports every machine in registration order.
func (r *Router) Sessions() []Session {
	sessions := make([]Session, 0, len(r.machines))
	for _, m := range r.machines {
		chatID, bound := m.ChatID()
		sessions = append(sessions, Session{
			Conversation: m.Conversation().Name(),
			Entrypoint:   m.Entrypoint(),
			Fallback:     m.Fallback(),
			State:        m.State().String(),
			ChatID:       chatID,
			Bound:        bound,
		})
	}
	return sessions
}

// ParseCommand extracts the command name from "/name@bot args". It reports
// false for text that is not a command.
func ParseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

// Handle routes one message. Errors from a turn are reported to the chat and
// returned; a failed error report is logged.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	var err error
	kind := "text"
	if name, ok := ParseCommand(msg.Text); ok {
		kind = "command"
		err = r.handleCommand(ctx, name, msg)
	} else {
		err = r.handleText(ctx, msg)
	}

	metrics.UpdatesTotal.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	if err != nil {
		r.logger.WarnContext(ctx, "turn failed", slog.Int64("chat_id", msg.ChatID), slog.String("error", err.Error()))
		if sendErr := r.sender.Send(ctx, Reply{
			ChatID:           msg.ChatID,
			Text:             render.Error(err),
			ParseMode:        ParseModeMarkdown,
			ReplyToMessageID: msg.MessageID,
		}); sendErr != nil {
			r.logger.ErrorContext(ctx, "failed to report error", slog.Int64("chat_id", msg.ChatID), slog.String("error", sendErr.Error()))
		}
	}
	return err
}

func (r *Router) handleCommand(ctx context.Context, name string, msg Message) error {
	if name == CommandsCommand {
		return r.listCommands(ctx, msg)
	}
	if m, ok := r.entry[name]; ok {
		return m.Start(ctx, msg)
	}

	var cancelled bool
	for _, m := range r.machines {
		if m.Fallback() != name {
			continue
		}
		if chatID, bound := m.ChatID(); !bound || chatID != msg.ChatID {
			continue
		}
		if _, err := m.Cancel(ctx, msg); err != nil {
			return err
		}
		cancelled = true
	}
	if cancelled {
		return nil
	}
	for _, m := range r.machines {
		if m.Fallback() != name {
			continue
		}
		ok, err := m.Cancel(ctx, msg)
		if ok || err != nil {
			return err
		}
	}

	r.logger.DebugContext(ctx, "unknown command", slog.String("command", name), slog.Int64("chat_id", msg.ChatID))
	return nil
}

func (r *Router) handleText(ctx context.Context, msg Message) error {
	for _, m := range r.machines {
		if chatID, bound := m.ChatID(); bound && chatID == msg.ChatID {
			_, err := m.HandleText(ctx, msg)
			return err
		}
	}
	return nil
}

func (r *Router) listCommands(ctx context.Context, msg Message) error {
	var b strings.Builder
	b.WriteString("``` " + ReplyAvailableCommand + "\n")
	for _, name := range r.Commands() {
		b.WriteString(" - " + name + "\n")
	}
	b.WriteString("```")
	return r.sender.Send(ctx, Reply{
		ChatID:           msg.ChatID,
		Text:             b.String(),
		ParseMode:        ParseModeMarkdown,
		ReplyToMessageID: msg.MessageID,
	})
}
