package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/pilotchat/internal/shared"
)

// dialect captures the SQL differences between supported databases.
type dialect interface {
	name() string
	schema() string
	// placeholder returns the bind parameter for the n-th argument (1-based).
	placeholder(n int) string
	// field returns an expression selecting a top-level string field of body.
	field(name string) string
	// seqColumn orders documents that share a created_at value.
	seqColumn() string
	retry() shared.RetryPolicy
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore implements DocumentStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if _, err := db.ExecContext(ctx, d.schema()); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Driver returns the name of the underlying database driver.
func (s *SQLStore) Driver() string {
	return s.dialect.name()
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a document.
func (s *SQLStore) Upsert(ctx context.Context, collection, partitionKey, id string, createdAt time.Time, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	p := s.dialect.placeholder
	query := fmt.Sprintf(`
	INSERT INTO documents (collection, partition_key, id, body, created_at)
	VALUES (%s, %s, %s, %s, %s)
	ON CONFLICT (collection, partition_key, id) DO UPDATE SET
		body = excluded.body,
		created_at = excluded.created_at`,
		p(1), p(2), p(3), p(4), p(5))

	return shared.Retry(ctx, "upsert document", s.dialect.retry(), func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, collection, partitionKey, id, string(body), createdAt.UnixNano())
		return err
	})
}

// Get decodes a single document into out.
func (s *SQLStore) Get(ctx context.Context, collection, partitionKey, id string, out any) (bool, error) {
	p := s.dialect.placeholder
	query := fmt.Sprintf(`SELECT body FROM documents WHERE collection = %s AND partition_key = %s AND id = %s`,
		p(1), p(2), p(3))

	var body string
	err := s.db.QueryRowContext(ctx, query, collection, partitionKey, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, fmt.Errorf("decode document %s: %w", id, err)
	}
	return true, nil
}

// Query returns matching documents in creation order.
func (s *SQLStore) Query(ctx context.Context, q Query) ([]json.RawMessage, error) {
	query, args, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	docs := make([]json.RawMessage, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *SQLStore) buildQuery(q Query) (string, []any, error) {
	p := s.dialect.placeholder

	var b strings.Builder
	b.WriteString("SELECT body FROM documents WHERE collection = ")
	b.WriteString(p(1))
	b.WriteString(" AND partition_key = ")
	b.WriteString(p(2))
	args := []any{q.Collection, q.PartitionKey}

	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !fieldName.MatchString(k) {
			return "", nil, fmt.Errorf("invalid filter field %q", k)
		}
		args = append(args, q.Filter[k])
		fmt.Fprintf(&b, " AND %s = %s", s.dialect.field(k), p(len(args)))
	}

	fmt.Fprintf(&b, " ORDER BY created_at ASC, %s ASC", s.dialect.seqColumn())
	return b.String(), args, nil
}
