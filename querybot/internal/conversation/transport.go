package conversation

import "context"

// Message is an inbound chat message.
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}

// Keyboard is a reply keyboard, one slice per row.
type Keyboard [][]string

// ParseModeMarkdown is the parse mode of every conversation reply.
const ParseModeMarkdown = "Markdown"

// Reply is an outbound chat message. A nil Keyboard removes any keyboard
// the chat is showing.
type Reply struct {
	ChatID           int64
	Text             string
	Keyboard         Keyboard
	ParseMode        string
	ReplyToMessageID int
}

// Sender delivers replies through the chat transport.
type Sender interface {
	Send(ctx context.Context, r Reply) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, r Reply) error

func (f SenderFunc) Send(ctx context.Context, r Reply) error { return f(ctx, r) }
