package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/querybot/common/messaging"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/query"
)

// QueryExecutedEvent announces an executed query.
type QueryExecutedEvent struct {
	ID           string         `json:"id"`
	Conversation string         `json:"conversation"`
	ChatID       int64          `json:"chat_id"`
	Kind         string         `json:"kind"`
	Query        query.Snapshot `json:"query"`
	ResultCount  int            `json:"result_count"`
	Error        string         `json:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// Publisher publishes query events. It satisfies conversation.Recorder.
type Publisher struct {
	publisher messaging.Publisher
	subject   string
}

// NewPublisher publishes to messaging.SubjectQueriesExecuted.
func NewPublisher(publisher messaging.Publisher) *Publisher {
	return &Publisher{publisher: publisher, subject: messaging.SubjectQueriesExecuted}
}

// Record publishes e.
func (p *Publisher) Record(ctx context.Context, e conversation.Execution) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}

	event := QueryExecutedEvent{
		ID:           id.String(),
		Conversation: e.Conversation,
		ChatID:       e.ChatID,
		Kind:         string(e.Kind),
		Query:        e.Query,
		ResultCount:  e.ResultCount,
		DurationMs:   e.Duration.Milliseconds(),
		ExecutedAt:   e.At,
	}
	if e.Err != nil {
		event.Error = e.Err.Error()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal query event: %w", err)
	}
	if err := p.publisher.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("failed to publish query event: %w", err)
	}
	return nil
}

// Recorders fans an execution out to several recorders. Every recorder is
// called and the errors are joined.
type Recorders []conversation.Recorder

func (rs Recorders) Record(ctx context.Context, e conversation.Execution) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
