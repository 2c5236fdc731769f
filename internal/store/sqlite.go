package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/pilotchat/internal/shared"
	_ "modernc.org/sqlite"
)

type sqliteDialect struct{}

func (sqliteDialect) name() string { return DriverSQLite }

// rowid survives ON CONFLICT DO UPDATE, so it doubles as the insertion sequence.
func (sqliteDialect) schema() string {
	return `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (collection, partition_key, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_partition
		ON documents(collection, partition_key, created_at);
	`
}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) field(name string) string {
	return fmt.Sprintf("json_extract(body, '$.%s')", name)
}

func (sqliteDialect) seqColumn() string { return "rowid" }

func (sqliteDialect) retry() shared.RetryPolicy { return shared.SQLiteRetry }

// NewSQLite opens a SQLite-backed document store, creating the database file
// and its directory when missing.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newSQLStore(ctx, db, sqliteDialect{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}
