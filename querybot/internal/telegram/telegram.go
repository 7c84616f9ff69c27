// Package telegram connects conversations to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/telhawk-systems/querybot/common/logging"
	"github.com/telhawk-systems/querybot/common/middleware"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
)

// Handler consumes inbound messages.
type Handler interface {
	Handle(ctx context.Context, msg conversation.Message) error
}

// Transport polls for updates and sends replies.
type Transport struct {
	bot         *tgbotapi.BotAPI
	logger      *slog.Logger
	pollTimeout int
}

type options struct {
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
	pollTimeout int
	debug       bool
}

// Option configures a Transport.
type Option func(*options)

// WithEndpoint overrides the Bot API endpoint format, for example
// "http://localhost:8081/bot%s/%s".
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *options) { o.pollTimeout = seconds }
}

// WithDebug logs every Bot API request.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// New authenticates with token and returns a ready transport.
func New(token string, opts ...Option) (*Transport, error) {
	o := options{
		endpoint:    tgbotapi.APIEndpoint,
		client:      &http.Client{Timeout: 90 * time.Second},
		logger:      slog.Default(),
		pollTimeout: 60,
	}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	bot.Debug = o.debug

	logger := o.logger.With(slog.String("component", "telegram"))
	logger.Info("authorized", slog.String("bot", bot.Self.UserName))

	return &Transport{bot: bot, logger: logger, pollTimeout: o.pollTimeout}, nil
}

// Username is the bot account name.
func (t *Transport) Username() string {
	return t.bot.Self.UserName
}

// Send delivers a conversation reply. A nil keyboard removes the keyboard
// of the addressed user.
func (t *Transport) Send(ctx context.Context, r conversation.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	msg.ParseMode = r.ParseMode
	msg.ReplyToMessageID = r.ReplyToMessageID
	msg.ReplyMarkup = Markup(r.Keyboard)

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", r.ChatID, err)
	}
	return nil
}

// SendText delivers plain text without markup.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// Markup converts a keyboard to Bot API reply markup.
func Markup(kb conversation.Keyboard) any {
	if kb == nil {
		return tgbotapi.NewRemoveKeyboard(true)
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, caption := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(caption))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	markup.Selective = true
	return markup
}

// ToMessage extracts the text message of an update.
func ToMessage(u tgbotapi.Update) (conversation.Message, bool) {
	if u.Message == nil || u.Message.Chat == nil || u.Message.Text == "" {
		return conversation.Message{}, false
	}
	return conversation.Message{
		ChatID:    u.Message.Chat.ID,
		MessageID: u.Message.MessageID,
		Text:      u.Message.Text,
	}, true
}

// Run long-polls for updates and hands each text message to h, one at a
// time, until ctx is cancelled.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.pollTimeout
	cfg.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(cfg)
	defer t.bot.StopReceivingUpdates()

	t.logger.Info("polling for updates", slog.Int("timeout_s", t.pollTimeout))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopped polling")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := ToMessage(u)
			if !ok {
				continue
			}
			t.dispatch(ctx, h, u.UpdateID, msg)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, h Handler, updateID int, msg conversation.Message) {
	ctx = middleware.WithRequestID(ctx, uuid.NewString())
	ctx = logging.ContextWithChat(ctx, msg.ChatID)

	start := time.Now()
	err := h.Handle(ctx, msg)

	attrs := []any{
		slog.Int("update_id", updateID),
		logging.ChatID(msg.ChatID),
		logging.Duration(time.Since(start).Milliseconds()),
	}
	if err != nil {
		t.logger.DebugContext(ctx, "update handled with error", append(attrs, logging.Error(err))...)
		return
	}
	t.logger.DebugContext(ctx, "update handled", attrs...)
}
