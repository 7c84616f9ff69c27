// Package history keeps an audit trail of executed queries in PostgreSQL.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/querybot/common/database"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/query"
)

// Entry is one recorded execution.
type Entry struct {
	ID           string
	Conversation string
	ChatID       int64
	Kind         string
	Query        query.Snapshot
	ResultCount  int
	Error        string
	DurationMs   int64
	CreatedAt    time.Time
}

// Migrate applies the migrations found at sourceURL, for example
// "file://migrations".
func Migrate(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Repository stores entries. It satisfies conversation.Recorder.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects to connString and verifies the connection.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Record inserts e.
func (r *Repository) Record(ctx context.Context, e conversation.Execution) error {
	entry, err := newEntry(e)
	if err != nil {
		return err
	}
	q, err := json.Marshal(entry.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err = r.pool.Exec(ctx, `
		INSERT INTO query_history (id, conversation, chat_id, kind, query, result_count, error, duration_ms, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Conversation, entry.ChatID, entry.Kind, q,
		entry.ResultCount, nullable(entry.Error), entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries of a chat, newest first.
func (r *Repository) Recent(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := database.ReadContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id::text, conversation, chat_id, kind, query, result_count, COALESCE(error, ''), duration_ms, created_at
		FROM query_history
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e Entry
			q []byte
		)
		if err := row.Scan(&e.ID, &e.Conversation, &e.ChatID, &e.Kind, &q, &e.ResultCount, &e.Error, &e.DurationMs, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		if err := json.Unmarshal(q, &e.Query); err != nil {
			return Entry{}, fmt.Errorf("failed to decode query: %w", err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return entries, nil
}

func newEntry(e conversation.Execution) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate entry id: %w", err)
	}
	created := e.At
	if created.IsZero() {
		created = time.Now()
	}
	entry := Entry{
		ID:           id.String(),
		Conversation: e.Conversation,
		ChatID:       e.ChatID,
		Kind:         string(e.Kind),
		Query:        e.Query,
		ResultCount:  e.ResultCount,
		DurationMs:   e.Duration.Milliseconds(),
		CreatedAt:    created.UTC(),
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	return entry, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
