// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics while writing every commit through to real tables
// created from the schema registry on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"synopsis/internal/infra/persistence/memory"
	"synopsis/internal/infra/persistence/sqldb"
	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/synopsis?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to DefaultDSN).
// It applies the schema DDL, hydrates the in-memory store from the tables and
// routes every later commit through a SQL flusher.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	if err := sqldb.Migrate(ctx, db, mem.Schema(), schema.Postgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqldb.Load(ctx, db, mem.Schema())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	mem.SetBackend(sqldb.NewFlusher(db, mem.Schema(), schema.Postgres, mem.Logger()))
	return &Store{Store: mem, db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
