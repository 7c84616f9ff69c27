package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/querybot/common/audit"
	"github.com/telhawk-systems/querybot/common/messaging"
)

// Notification is the event produced when a rule matches.
type Notification struct {
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
	Status   int       `json:"status"`
	Key      string    `json:"key,omitempty"`
	Message  string    `json:"message"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// FormatText renders the chat text for a notification. prefix is optional.
func FormatText(prefix, endpoint, key string, status int, message string) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(' ')
	}
	b.WriteString(endpoint)
	if key != "" {
		fmt.Fprintf(&b, " with pk %s", key)
	}
	fmt.Fprintf(&b, " has ended with %d and sends message: %s", status, message)
	return b.String()
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Type() string
}

// TextSender sends plain text to a chat.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ChatNotifier sends the notification text to a fixed chat.
type ChatNotifier struct {
	sender TextSender
	chatID int64
}

func NewChatNotifier(sender TextSender, chatID int64) *ChatNotifier {
	return &ChatNotifier{sender: sender, chatID: chatID}
}

func (c *ChatNotifier) Type() string { return "chat" }

func (c *ChatNotifier) Notify(ctx context.Context, n Notification) error {
	if err := c.sender.SendText(ctx, c.chatID, n.Text); err != nil {
		return fmt.Errorf("send to chat %d: %w", c.chatID, err)
	}
	return nil
}

// NATSNotifier publishes notifications for the relay to deliver.
type NATSNotifier struct {
	publisher messaging.Publisher
	subject   string
}

func NewNATSNotifier(publisher messaging.Publisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = messaging.SubjectNotificationsGuard
	}
	return &NATSNotifier{publisher: publisher, subject: subject}
}

func (p *NATSNotifier) Type() string { return "nats" }

func (p *NATSNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.publisher.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// WebhookNotifier POSTs notifications as JSON. With a signer every request
// carries the audit signature headers.
type WebhookNotifier struct {
	URL    string
	client *http.Client
	signer *audit.Signer
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// SignWith enables request signing.
func (w *WebhookNotifier) SignWith(s *audit.Signer) *WebhookNotifier {
	w.signer = s
	return w
}

func (w *WebhookNotifier) Type() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "querybot/1.0")
	if w.signer != nil {
		req.Header.Set(audit.HeaderID, n.ID)
		req.Header.Set(audit.HeaderTimestamp, strconv.FormatInt(n.Time.Unix(), 10))
		req.Header.Set(audit.HeaderSignature, w.signer.Sign(n.ID, n.Time, data))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Type() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		slog.String("id", n.ID),
		slog.String("endpoint", n.Endpoint),
		slog.Int("status", n.Status),
		slog.String("text", n.Text))
	return nil
}

// MultiNotifier fans out to several notifiers. It fails only when every
// notifier fails.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Type() string { return "multi" }

func (m *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var lastErr error
	delivered := 0

	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			lastErr = fmt.Errorf("%s notifier failed: %w", nt.Type(), err)
		} else {
			delivered++
		}
	}

	if delivered == 0 && len(m.notifiers) > 0 {
		return fmt.Errorf("all notifiers failed: %w", lastErr)
	}
	return nil
}
