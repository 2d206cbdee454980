// Package sqlite provides a SQLite-backed persistent store. The inventory
// lives in real tables created from the schema registry; every commit of the
// embedded memory store is written through in one SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"synopsis/internal/infra/persistence/memory"
	"synopsis/internal/infra/persistence/sqldb"
	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "synopsis.db"

// Store persists the inventory to a SQLite database file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path, applies the
// schema DDL and hydrates the in-memory store from the tables.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// foreign_keys is a per-connection pragma
	db.SetMaxOpenConns(1)

	mem := memory.NewStore(engine, opts...)
	if err := sqldb.Migrate(ctx, db, mem.Schema(), schema.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqldb.Load(ctx, db, mem.Schema())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	mem.SetBackend(sqldb.NewFlusher(db, mem.Schema(), schema.SQLite, mem.Logger()))
	return &Store{Store: mem, db: db, path: path}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
