// Package store provides document persistence over SQL databases.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DocumentStore persists JSON documents grouped by collection and partition.
type DocumentStore interface {
	// Upsert inserts or replaces the document with the given id. A replaced
	// document keeps its original insertion position.
	Upsert(ctx context.Context, collection, partitionKey, id string, createdAt time.Time, doc any) error

	// Get decodes the document into out. It reports false, nil when absent.
	Get(ctx context.Context, collection, partitionKey, id string, out any) (bool, error)

	// Query returns the matching documents ordered by createdAt ascending,
	// ties broken by first insertion. No match yields an empty slice.
	Query(ctx context.Context, q Query) ([]json.RawMessage, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Query selects documents in one partition. Filter matches top-level string
// fields of the stored document exactly.
type Query struct {
	Collection   string
	PartitionKey string
	Filter       map[string]string
}

// Open returns a document store for the named driver.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
