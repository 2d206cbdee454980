// Package bolt persists the inventory in an embedded bbolt database: one
// bucket per table holding JSON rows, junction rows keyed "member:group".
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// SequencesBucket holds the next-id counter of each entity table.
var SequencesBucket = []byte("sequences")

const defaultPath = "synopsis.bolt"

// Store persists the inventory to a bbolt file.
type Store struct {
	*memory.Store
	db   *bbolt.DB
	path string
}

// NewStore opens the database at path, creates the buckets and hydrates the
// in-memory store from them.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	f := &flusher{db: db, schema: mem.Schema()}
	if err := f.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := f.load()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	mem.SetBackend(f)
	return &Store{Store: mem, db: db, path: path}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying bbolt handle for tests.
func (s *Store) DB() *bbolt.DB { return s.db }

type flusher struct {
	db     *bbolt.DB
	schema *domain.Schema
}

func (f *flusher) buckets() [][]byte {
	var out [][]byte
	for _, entity := range append(domain.EntityTypes(), domain.MembershipTypes()...) {
		out = append(out, []byte(f.schema.Table(entity).Name))
	}
	return append(out, SequencesBucket)
}

func (f *flusher) initBuckets() error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range f.buckets() {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func linkKey(l domain.Link) []byte {
	return []byte(strconv.FormatInt(l.Left, 10) + ":" + strconv.FormatInt(l.Right, 10))
}

// Flush applies cs in a single bbolt write transaction.
func (f *flusher) Flush(ctx context.Context, cs domain.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.db.Update(func(tx *bbolt.Tx) error {
		for _, c := range cs.Changes {
			b := tx.Bucket([]byte(f.schema.Table(c.Entity).Name))
			if b == nil {
				return fmt.Errorf("missing bucket for %s", c.Entity)
			}
			var key []byte
			switch row := c.Row().(type) {
			case domain.Link:
				key = linkKey(row)
			case domain.Record:
				key = idKey(row.RecordID())
			default:
				return fmt.Errorf("unexpected row %T", row)
			}
			if c.Action == domain.ActionDelete {
				if err := b.Delete(key); err != nil {
					return fmt.Errorf("failed to delete %s: %w", c.Entity, err)
				}
				continue
			}
			data, err := json.Marshal(c.Row())
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", c.Entity, err)
			}
			if err := b.Put(key, data); err != nil {
				return fmt.Errorf("failed to put %s: %w", c.Entity, err)
			}
		}
		seq := tx.Bucket(SequencesBucket)
		for entity, value := range cs.Sequences {
			if err := seq.Put([]byte(entity), []byte(strconv.FormatInt(value, 10))); err != nil {
				return fmt.Errorf("failed to put sequence %s: %w", entity, err)
			}
		}
		return nil
	})
}

func (f *flusher) load() (memory.Snapshot, error) {
	snap := memory.Snapshot{Sequences: make(map[domain.EntityType]int64)}
	err := f.db.View(func(tx *bbolt.Tx) error {
		each := func(entity domain.EntityType, fn func(v []byte) error) error {
			name := f.schema.Table(entity).Name
			return tx.Bucket([]byte(name)).ForEach(func(k, v []byte) error {
				if err := fn(v); err != nil {
					return fmt.Errorf("failed to unmarshal %s %x: %w", name, k, err)
				}
				return nil
			})
		}
		if err := each(domain.EntityHost, func(v []byte) error {
			var r domain.HostRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			snap.Hosts = append(snap.Hosts, r)
			return nil
		}); err != nil {
			return err
		}
		if err := each(domain.EntityService, func(v []byte) error {
			var r domain.ServiceRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			snap.Services = append(snap.Services, r)
			return nil
		}); err != nil {
			return err
		}
		groups := func(entity domain.EntityType, out *[]domain.GroupRecord) error {
			return each(entity, func(v []byte) error {
				var r domain.GroupRecord
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				*out = append(*out, r)
				return nil
			})
		}
		if err := groups(domain.EntityHostGroup, &snap.HostGroups); err != nil {
			return err
		}
		if err := groups(domain.EntityServiceGroup, &snap.ServiceGroups); err != nil {
			return err
		}
		links := func(entity domain.EntityType, out *[]domain.Link) error {
			return each(entity, func(v []byte) error {
				var l domain.Link
				if err := json.Unmarshal(v, &l); err != nil {
					return err
				}
				*out = append(*out, l)
				return nil
			})
		}
		if err := links(domain.EntityHostMembership, &snap.HostMemberships); err != nil {
			return err
		}
		if err := links(domain.EntityServiceMembership, &snap.ServiceMemberships); err != nil {
			return err
		}
		return tx.Bucket(SequencesBucket).ForEach(func(k, v []byte) error {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("bad sequence %s: %w", k, err)
			}
			snap.Sequences[domain.EntityType(k)] = n
			return nil
		})
	})
	return snap, err
}
