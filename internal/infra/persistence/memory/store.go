// Package memory provides the in-memory implementation of the inventory
// persistence store. It owns the committed state, hands out unit-of-work
// sessions over it and runs the integrity pipeline on every commit; durable
// backends plug in through a domain.Flusher.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.UnitOfWork      = (*Session)(nil)
)

type (
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

// Store provides an in-memory transactional store for the inventory.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	schema   *domain.Schema
	engine   *RulesEngine
	policy   domain.HostDeletePolicy
	backend  domain.Flusher
	observer domain.CommitObserver
	log      *logrus.Entry

	integrity []domain.Rule
}

// Option configures a Store.
type Option func(*Store)

// WithSchema binds the store to an existing schema instead of a fresh one.
func WithSchema(s *domain.Schema) Option {
	return func(st *Store) {
		if s != nil {
			st.schema = s
		}
	}
}

// WithBackend makes every commit flush its change set through b before the
// new state becomes visible.
func WithBackend(b domain.Flusher) Option {
	return func(st *Store) { st.backend = b }
}

// WithLogger routes store logging through logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(st *Store) {
		if logger != nil {
			st.log = logger.WithField("component", "store")
		}
	}
}

// WithObserver reports every commit attempt to o.
func WithObserver(o domain.CommitObserver) Option {
	return func(st *Store) { st.observer = o }
}

// WithHostDeletePolicy selects how services react to their host being deleted.
func WithHostDeletePolicy(p domain.HostDeletePolicy) Option {
	return func(st *Store) {
		if p != "" {
			st.policy = p
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
// Integrity constraints are always enforced; engine rules run after them.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	st := &Store{
		state:  newMemoryState(),
		engine: engine,
		policy: domain.RetainServices,
		log:    logrus.StandardLogger().WithField("component", "store"),
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.schema == nil {
		st.schema = domain.MustSchema()
	}
	st.integrity = domain.IntegrityRules(st.schema)
	if st.policy == domain.RestrictServices {
		st.integrity = append(st.integrity, domain.RestrictHostDeleteRule(st.schema))
	}
	return st
}

// Schema returns the schema the store enforces.
func (s *Store) Schema() *domain.Schema { return s.schema }

// Policy returns the configured host delete policy.
func (s *Store) Policy() domain.HostDeletePolicy { return s.policy }

// Logger returns the store's log entry for backends that want to share it.
func (s *Store) Logger() *logrus.Entry { return s.log }

// RulesEngine exposes the configured policy rules engine.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// SetBackend swaps the flusher used by subsequent commits.
func (s *Store) SetBackend(b domain.Flusher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. Sessions
// opened before the import keep stale entities.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// Count returns the committed row count of a table.
func (s *Store) Count(entity domain.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.count(entity)
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		store:    s,
		log:      s.log.WithContext(ctx).WithField("session", id),
		hosts:    make(map[int64]*domain.Host),
		services: make(map[int64]*domain.Service),
		hgroups:  make(map[int64]*domain.HostGroup),
		sgroups:  make(map[int64]*domain.ServiceGroup),
		tracked:  make(map[domain.Entity]*snapshot),
		deleted:  make(map[domain.Entity]struct{}),
	}
}

// RunInTransaction executes fn within a unit of work and commits it. An
// error from fn or from the commit rolls the session back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.UnitOfWork) error) (Result, error) {
	sess := s.Begin(ctx)
	if err := fn(sess); err != nil {
		sess.Rollback()
		return Result{}, err
	}
	res, err := sess.commit(ctx)
	if err != nil {
		sess.Rollback()
		return res, err
	}
	return res, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.RuleView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newStateView(&snapshot))
}

func (s *Store) integrityEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	for _, rule := range s.integrity {
		engine.Register(rule)
	}
	for _, rule := range s.engine.Rules() {
		engine.Register(rule)
	}
	return engine
}
