package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/pilotchat/internal/shared"
	_ "github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) name() string { return DriverPostgres }

func (postgresDialect) schema() string {
	return `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		seq BIGSERIAL,
		PRIMARY KEY (collection, partition_key, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_partition
		ON documents(collection, partition_key, created_at);
	`
}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) field(name string) string {
	return fmt.Sprintf("(body::jsonb ->> '%s')", name)
}

func (postgresDialect) seqColumn() string { return "seq" }

// Postgres handles write concurrency itself.
func (postgresDialect) retry() shared.RetryPolicy { return shared.RetryPolicy{Attempts: 1} }

// NewPostgres opens a PostgreSQL-backed document store.
func NewPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL cannot be empty for postgres")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if !strings.Contains(strings.ToLower(dsn), "sslmode") {
			return nil, fmt.Errorf("ping database (set sslmode in DATABASE_URL if the server does not use TLS): %w", err)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newSQLStore(ctx, db, postgresDialect{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}
