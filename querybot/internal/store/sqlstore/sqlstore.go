// Package sqlstore serves collections from SQL tables through database/sql.
// PostgreSQL goes through the pgx stdlib driver and SQLite through
// modernc.org/sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

// Dialect abstracts the SQL differences between supported databases.
type Dialect struct {
	Name   string
	Driver string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		Driver:      "pgx",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	SQLite = Dialect{
		Name:        "sqlite",
		Driver:      "sqlite",
		Placeholder: func(int) string { return "?" },
	}
)

// DialectFor resolves a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql driver %q", name)
	}
}

// Store maps collection names to tables of one database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  map[string]string
	timeout time.Duration
}

// Open connects and pings the database. tables maps collection names to
// table names.
func Open(ctx context.Context, dialect Dialect, dsn string, tables map[string]string) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect.Name, err)
	}

	return New(db, dialect, tables)
}

// New wraps an existing handle.
func New(db *sql.DB, dialect Dialect, tables map[string]string) (*Store, error) {
	for name, table := range tables {
		if err := store.ValidateField(table); err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
	}
	return &Store{db: db, dialect: dialect, tables: tables, timeout: 30 * time.Second}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Collection(name string) (store.Collection, error) {
	table, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return &Collection{store: s, table: table}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Collection is one table.
type Collection struct {
	store *Store
	table string
}

func (c *Collection) Filter(ctx context.Context, preds []store.Predicate, fields []string) ([]store.Record, error) {
	columns := "*"
	if len(fields) > 0 {
		quoted := make([]string, 0, len(fields))
		for _, f := range fields {
			if err := validColumn(f); err != nil {
				return nil, err
			}
			quoted = append(quoted, quote(f))
		}
		columns = strings.Join(quoted, ", ")
	}

	where, args, err := c.where(preds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.store.timeout)
	defer cancel()

	rows, err := c.store.db.QueryContext(ctx, "SELECT "+columns+" FROM "+quote(c.table)+where, args...)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", c.table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", c.table, err)
	}

	var records []store.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.table, err)
		}
		record := make(store.Record, len(names))
		for i, n := range names {
			if b, ok := values[i].([]byte); ok {
				record[n] = string(b)
			} else {
				record[n] = values[i]
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter %s: %w", c.table, err)
	}
	return records, nil
}

func (c *Collection) Count(ctx context.Context, preds []store.Predicate) (int, error) {
	where, args, err := c.where(preds)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.store.timeout)
	defer cancel()

	var n int
	if err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(c.table)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	return n, nil
}

func (c *Collection) Aggregate(ctx context.Context, preds []store.Predicate, agg store.Aggregation) (map[string]any, error) {
	if err := validColumn(agg.Property); err != nil {
		return nil, err
	}
	where, args, err := c.where(preds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.store.timeout)
	defer cancel()

	var sum sql.NullFloat64
	query := "SELECT SUM(" + quote(agg.Property) + ") FROM " + quote(c.table) + where
	if err := c.store.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return nil, fmt.Errorf("sum %s.%s: %w", c.table, agg.Property, err)
	}

	result := map[string]any{agg.Key(): nil}
	if sum.Valid {
		result[agg.Key()] = sum.Float64
	}
	return result, nil
}

func (c *Collection) where(preds []store.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for i, p := range preds {
		if err := validColumn(p.Field); err != nil {
			return "", nil, err
		}
		var op string
		switch p.Op {
		case store.OpEq:
			op = "="
		case store.OpGt:
			op = ">"
		default:
			return "", nil, fmt.Errorf("%w: %q", store.ErrUnsupportedOp, p.Op)
		}
		value := p.Value
		if t, ok := value.(time.Time); ok {
			value = t.UTC()
		}
		clauses = append(clauses, quote(p.Field)+" "+op+" "+c.store.dialect.Placeholder(i+1))
		args = append(args, value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// validColumn rejects dotted paths on top of the shared identifier check.
func validColumn(name string) error {
	if err := store.ValidateField(name); err != nil {
		return err
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q", store.ErrInvalidField, name)
	}
	return nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}
