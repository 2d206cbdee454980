package core

import (
	"context"
	"fmt"

	"synopsis/internal/config"
	"synopsis/internal/infra/persistence/bolt"
	"synopsis/internal/infra/persistence/memory"
	"synopsis/internal/infra/persistence/postgres"
	"synopsis/internal/infra/persistence/sqlite"
	"synopsis/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBolt     StorageDriver = "bolt"     // embedded bbolt key/value file
)

// Store is a persistent store the service layer and the CLI can drive,
// back up, restore and close.
type Store interface {
	domain.PersistentStore
	Begin(ctx context.Context) *memory.Session
	Count(entity domain.EntityType) int
	ExportState() memory.Snapshot
	Restore(ctx context.Context, snap memory.Snapshot) (domain.Result, error)
	Close() error
}

type memoryStore struct {
	*memory.Store
}

func (memoryStore) Close() error { return nil }

// OpenPersistentStore selects a backend from the storage configuration. An
// empty driver selects sqlite.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, engine *RulesEngine, opts ...memory.Option) (Store, error) {
	policy, err := domain.ParseHostDeletePolicy(cfg.HostDeletePolicy)
	if err != nil {
		return nil, err
	}
	opts = append([]memory.Option{memory.WithHostDeletePolicy(policy)}, opts...)

	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memoryStore{memory.NewStore(engine, opts...)}, nil
	case StorageSQLite:
		st, err := sqlite.NewStore(ctx, cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StoragePostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StorageBolt:
		st, err := bolt.NewStore(ctx, cfg.BoltPath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
