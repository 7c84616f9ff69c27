// Package relay moves notifications and query events across NATS.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/querybot/common/messaging"
	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

// Handler forwards guard notifications published on NATS to a chat.
type Handler struct {
	subscriber messaging.Subscriber
	sender     notify.TextSender
	chatID     int64
	subject    string
	logger     *slog.Logger
	subs       []messaging.Subscription
}

// NewHandler creates a relay for subject. An empty subject uses
// messaging.SubjectNotificationsGuard.
func NewHandler(subscriber messaging.Subscriber, sender notify.TextSender, chatID int64, subject string, logger *slog.Logger) *Handler {
	if subject == "" {
		subject = messaging.SubjectNotificationsGuard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subscriber: subscriber,
		sender:     sender,
		chatID:     chatID,
		subject:    subject,
		logger:     logger.With(slog.String("component", "relay")),
	}
}

// Start subscribes within the relay queue group so each notification is
// delivered by one instance.
func (h *Handler) Start() error {
	sub, err := h.subscriber.QueueSubscribe(h.subject, messaging.QueueRelayWorkers, h.HandleNotification)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", h.subject, err)
	}
	h.subs = append(h.subs, sub)
	h.logger.Info("relay started", slog.String("subject", h.subject), slog.Int64("chat_id", h.chatID))
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe", slog.String("subject", sub.Subject()), slog.String("error", err.Error()))
		}
	}
	h.subs = nil
	h.logger.Info("relay stopped")
	return nil
}

// HandleNotification decodes one notification and sends its text.
func (h *Handler) HandleNotification(ctx context.Context, msg *messaging.Message) error {
	var n notify.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		metrics.NotificationsTotal.WithLabelValues("relay", metrics.OutcomeIgnored).Inc()
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	text := n.Text
	if text == "" {
		text = notify.FormatText("", n.Endpoint, n.Key, n.Status, n.Message)
	}

	err := h.sender.SendText(ctx, h.chatID, text)
	metrics.NotificationsTotal.WithLabelValues("relay", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("relay notification %s: %w", n.ID, err)
	}
	h.logger.InfoContext(ctx, "notification relayed",
		slog.String("id", n.ID),
		slog.String("endpoint", n.Endpoint),
		slog.Int("status", n.Status))
	return nil
}
