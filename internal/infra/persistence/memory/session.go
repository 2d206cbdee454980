package memory

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
)

// ErrDetached is returned for operations on entities that do not belong to
// the session and cannot be attached to it.
var ErrDetached = errors.New("entity is not persistent")

// Session is a unit of work over a Store. It keeps an identity map of the
// entities it has loaded or been given, detects edits to them by comparing
// against their committed snapshots, and writes everything at Commit.
//
// A Session is not safe for concurrent use.
type Session struct {
	id    string
	store *Store
	log   *logrus.Entry

	hosts    map[int64]*domain.Host
	services map[int64]*domain.Service
	hgroups  map[int64]*domain.HostGroup
	sgroups  map[int64]*domain.ServiceGroup

	// tracked maps every entity in the session to its committed snapshot;
	// pending inserts map to nil.
	tracked map[domain.Entity]*snapshot
	order   []domain.Entity
	deleted map[domain.Entity]struct{}
}

// ID returns the session correlation id.
func (sess *Session) ID() string { return sess.id }

// Add registers entities with the session. New entities become pending
// inserts; an entity carrying the id of a committed row is attached and its
// current fields are written at commit.
func (sess *Session) Add(entities ...domain.Entity) error {
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	for _, e := range entities {
		if isNilEntity(e) {
			return fmt.Errorf("add: nil %T", e)
		}
		if err := sess.attach(&sess.store.state, e); err != nil {
			return err
		}
	}
	return nil
}

// Delete marks an entity for deletion at commit. Deleting a pending insert
// simply forgets it.
func (sess *Session) Delete(e domain.Entity) error {
	if isNilEntity(e) {
		return fmt.Errorf("delete: nil %T", e)
	}
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	snap, ok := sess.tracked[e]
	if !ok {
		if entityID(e) == 0 {
			return fmt.Errorf("delete %s: %w", e.EntityType(), ErrDetached)
		}
		if err := sess.attach(&sess.store.state, e); err != nil {
			return err
		}
		snap = sess.tracked[e]
		if snap == nil {
			sess.untrack(e)
			return domain.ErrNotFound{Entity: e.EntityType(), ID: entityID(e)}
		}
	}
	if snap == nil {
		sess.untrack(e)
		return nil
	}
	sess.deleted[e] = struct{}{}
	return nil
}

// Rollback discards pending changes: pending inserts are forgotten, deletes
// are unmarked and tracked entities return to their committed snapshot.
func (sess *Session) Rollback() {
	kept := sess.order[:0]
	for _, e := range sess.order {
		snap := sess.tracked[e]
		if snap == nil {
			delete(sess.tracked, e)
			continue
		}
		restore(e, snap)
		kept = append(kept, e)
	}
	sess.order = kept
	sess.deleted = make(map[domain.Entity]struct{})
	sess.log.Debug("session rolled back")
}

// Pending reports whether the session holds unflushed inserts or deletes.
// Edits to tracked entities are only detected at commit.
func (sess *Session) Pending() bool {
	if len(sess.deleted) > 0 {
		return true
	}
	for _, snap := range sess.tracked {
		if snap == nil {
			return true
		}
	}
	return false
}

// Contains reports whether e is tracked by the session.
func (sess *Session) Contains(e domain.Entity) bool {
	_, ok := sess.tracked[e]
	return ok
}

func (sess *Session) track(e domain.Entity, snap *snapshot) {
	if _, ok := sess.tracked[e]; !ok {
		sess.order = append(sess.order, e)
	}
	sess.tracked[e] = snap
}

func (sess *Session) untrack(e domain.Entity) {
	delete(sess.tracked, e)
	delete(sess.deleted, e)
	for i, o := range sess.order {
		if o == e {
			sess.order = append(sess.order[:i], sess.order[i+1:]...)
			break
		}
	}
	if id := entityID(e); id != 0 && sess.identity(e.EntityType(), id) == e {
		sess.forget(e.EntityType(), id)
	}
}

func (sess *Session) identity(entity domain.EntityType, id int64) domain.Entity {
	switch entity {
	case domain.EntityHost:
		if h, ok := sess.hosts[id]; ok {
			return h
		}
	case domain.EntityService:
		if s, ok := sess.services[id]; ok {
			return s
		}
	case domain.EntityHostGroup:
		if g, ok := sess.hgroups[id]; ok {
			return g
		}
	case domain.EntityServiceGroup:
		if g, ok := sess.sgroups[id]; ok {
			return g
		}
	}
	return nil
}

func (sess *Session) remember(e domain.Entity, id int64) {
	switch v := e.(type) {
	case *domain.Host:
		sess.hosts[id] = v
	case *domain.Service:
		sess.services[id] = v
	case *domain.HostGroup:
		sess.hgroups[id] = v
	case *domain.ServiceGroup:
		sess.sgroups[id] = v
	}
}

func (sess *Session) forget(entity domain.EntityType, id int64) {
	switch entity {
	case domain.EntityHost:
		delete(sess.hosts, id)
	case domain.EntityService:
		delete(sess.services, id)
	case domain.EntityHostGroup:
		delete(sess.hgroups, id)
	case domain.EntityServiceGroup:
		delete(sess.sgroups, id)
	}
}

// attach starts tracking e. The caller holds the store lock.
func (sess *Session) attach(state *memoryState, e domain.Entity) error {
	if _, ok := sess.tracked[e]; ok {
		delete(sess.deleted, e)
		return nil
	}
	id := entityID(e)
	if id == 0 {
		sess.track(e, nil)
		return nil
	}
	if other := sess.identity(e.EntityType(), id); other != nil {
		return fmt.Errorf("%s %d is already tracked by this session as a different instance", e.EntityType(), id)
	}
	if !state.exists(e.EntityType(), id) {
		// explicit primary key for a new row
		sess.track(e, nil)
		return nil
	}
	sess.remember(e, id)
	sess.track(e, &snapshot{})
	l := sess.newLoader(state)
	sess.tracked[e] = l.snapshotOf(e)
	l.run()
	return nil
}

// Count returns the committed row count of a table.
func (sess *Session) Count(entity domain.EntityType) int {
	return sess.store.Count(entity)
}

// Hosts returns the committed hosts matching pred, ordered by id. Pending
// inserts are not visible to queries until they are committed.
func (sess *Session) Hosts(pred domain.Predicate) []*domain.Host {
	pred = orAll(pred)
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	state := &sess.store.state
	l := sess.newLoader(state)
	var out []*domain.Host
	for _, id := range sortedKeys(state.hosts) {
		if pred(state.hosts[id]) {
			out = append(out, l.host(id))
		}
	}
	l.run()
	return out
}

// Services returns the committed services matching pred, ordered by id.
func (sess *Session) Services(pred domain.Predicate) []*domain.Service {
	pred = orAll(pred)
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	state := &sess.store.state
	l := sess.newLoader(state)
	var out []*domain.Service
	for _, id := range sortedKeys(state.services) {
		if pred(state.services[id]) {
			out = append(out, l.service(id))
		}
	}
	l.run()
	return out
}

// HostGroups returns the committed host groups matching pred, ordered by id.
func (sess *Session) HostGroups(pred domain.Predicate) []*domain.HostGroup {
	pred = orAll(pred)
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	state := &sess.store.state
	l := sess.newLoader(state)
	var out []*domain.HostGroup
	for _, id := range sortedKeys(state.hostGroups) {
		if pred(state.hostGroups[id]) {
			out = append(out, l.hostGroup(id))
		}
	}
	l.run()
	return out
}

// ServiceGroups returns the committed service groups matching pred, ordered by id.
func (sess *Session) ServiceGroups(pred domain.Predicate) []*domain.ServiceGroup {
	pred = orAll(pred)
	sess.store.mu.RLock()
	defer sess.store.mu.RUnlock()
	state := &sess.store.state
	l := sess.newLoader(state)
	var out []*domain.ServiceGroup
	for _, id := range sortedKeys(state.serviceGroups) {
		if pred(state.serviceGroups[id]) {
			out = append(out, l.serviceGroup(id))
		}
	}
	l.run()
	return out
}

// FindHost returns the first host matching pred. A miss is (nil, false),
// not an error.
func (sess *Session) FindHost(pred domain.Predicate) (*domain.Host, bool) {
	return first(sess.Hosts(pred))
}

// FindService returns the first service matching pred.
func (sess *Session) FindService(pred domain.Predicate) (*domain.Service, bool) {
	return first(sess.Services(pred))
}

// FindHostGroup returns the first host group matching pred.
func (sess *Session) FindHostGroup(pred domain.Predicate) (*domain.HostGroup, bool) {
	return first(sess.HostGroups(pred))
}

// FindServiceGroup returns the first service group matching pred.
func (sess *Session) FindServiceGroup(pred domain.Predicate) (*domain.ServiceGroup, bool) {
	return first(sess.ServiceGroups(pred))
}

// HostByID loads a committed host by primary key.
func (sess *Session) HostByID(id int64) (*domain.Host, bool) {
	return first(sess.Hosts(byID(id)))
}

// ServiceByID loads a committed service by primary key.
func (sess *Session) ServiceByID(id int64) (*domain.Service, bool) {
	return first(sess.Services(byID(id)))
}

// HostGroupByID loads a committed host group by primary key.
func (sess *Session) HostGroupByID(id int64) (*domain.HostGroup, bool) {
	return first(sess.HostGroups(byID(id)))
}

// ServiceGroupByID loads a committed service group by primary key.
func (sess *Session) ServiceGroupByID(id int64) (*domain.ServiceGroup, bool) {
	return first(sess.ServiceGroups(byID(id)))
}

func byID(id int64) domain.Predicate {
	return func(r domain.Record) bool { return r.RecordID() == id }
}

func orAll(pred domain.Predicate) domain.Predicate {
	if pred == nil {
		return domain.All()
	}
	return pred
}

func first[T any](items []*T) (*T, bool) {
	if len(items) == 0 {
		return nil, false
	}
	return items[0], true
}
