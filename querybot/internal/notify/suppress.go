package notify

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/querybot/querybot/internal/metrics"
)

// SuppressionState is stored in Redis for every endpoint and status pair
// that notified within the current window.
type SuppressionState struct {
	FirstSent  int64 `json:"first_sent"`
	LastSeen   int64 `json:"last_seen"`
	Suppressed int   `json:"suppressed"`
}

// Suppressor drops repeated notifications for the same endpoint and status
// inside a time window.
type Suppressor struct {
	redis  *redis.Client
	window time.Duration
	next   Notifier
	logger *slog.Logger
}

// NewSuppressor wraps next. A nil client or a non-positive window disables
// suppression.
func NewSuppressor(client *redis.Client, window time.Duration, next Notifier, logger *slog.Logger) *Suppressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suppressor{redis: client, window: window, next: next, logger: logger}
}

// IsEnabled reports whether suppression is active.
func (s *Suppressor) IsEnabled() bool {
	return s.redis != nil && s.window > 0
}

func (s *Suppressor) Type() string { return "suppress(" + s.next.Type() + ")" }

// Notify forwards n unless an equivalent notification was sent within the
// window. Redis failures never block delivery.
func (s *Suppressor) Notify(ctx context.Context, n Notification) error {
	if !s.IsEnabled() {
		return s.next.Notify(ctx, n)
	}

	key := suppressionKey(n.Endpoint, n.Status)
	suppressed, err := s.record(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "suppression check failed", slog.String("error", err.Error()))
	}
	if suppressed {
		metrics.NotificationsSuppressed.Inc()
		return nil
	}
	return s.next.Notify(ctx, n)
}

// record updates the state for key and reports whether the notification
// falls inside an existing window. The first notification claims the key
// with SETNX so concurrent senders agree on who goes through.
func (s *Suppressor) record(ctx context.Context, key string) (bool, error) {
	now := time.Now().Unix()

	first, err := json.Marshal(SuppressionState{FirstSent: now, LastSeen: now})
	if err != nil {
		return false, fmt.Errorf("failed to marshal suppression state: %w", err)
	}
	claimed, err := s.redis.SetNX(ctx, key, first, s.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim suppression window: %w", err)
	}
	if claimed {
		return false, nil
	}

	data, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// window expired between SETNX and GET
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get suppression state: %w", err)
	}

	var state SuppressionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// unreadable state restarts the window in place
		err = fmt.Errorf("failed to unmarshal suppression state: %w", err)
		return false, errors.Join(err, s.save(ctx, key, SuppressionState{FirstSent: now, LastSeen: now}, redis.KeepTTL))
	}
	state.Suppressed++
	state.LastSeen = now

	// KeepTTL so the window does not slide
	return true, s.save(ctx, key, state, redis.KeepTTL)
}

func (s *Suppressor) save(ctx context.Context, key string, state SuppressionState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal suppression state: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save suppression state: %w", err)
	}
	return nil
}

// State returns the stored state for an endpoint and status, if any.
func (s *Suppressor) State(ctx context.Context, endpoint string, status int) (*SuppressionState, error) {
	if !s.IsEnabled() {
		return nil, nil
	}
	data, err := s.redis.Get(ctx, suppressionKey(endpoint, status)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suppression state: %w", err)
	}
	var state SuppressionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suppression state: %w", err)
	}
	return &state, nil
}

func suppressionKey(endpoint string, status int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", endpoint, status)))
	return fmt.Sprintf("querybot:suppress:%x", sum[:16])
}
