package domain

import (
	"context"
	"time"
)

// UnitOfWork exposes the session operations available inside a
// transactional scope. Entities returned by queries are tracked: edits to
// their fields and collections become row changes at commit.
type UnitOfWork interface {
	Add(entities ...Entity) error
	Delete(entity Entity) error

	Hosts(pred Predicate) []*Host
	Services(pred Predicate) []*Service
	HostGroups(pred Predicate) []*HostGroup
	ServiceGroups(pred Predicate) []*ServiceGroup
	FindHost(pred Predicate) (*Host, bool)
	FindService(pred Predicate) (*Service, bool)
	FindHostGroup(pred Predicate) (*HostGroup, bool)
	FindServiceGroup(pred Predicate) (*ServiceGroup, bool)
	HostByID(id int64) (*Host, bool)
	ServiceByID(id int64) (*Service, bool)
	HostGroupByID(id int64) (*HostGroup, bool)
	ServiceGroupByID(id int64) (*ServiceGroup, bool)
	Count(entity EntityType) int
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(UnitOfWork) error) (Result, error)
	View(ctx context.Context, fn func(RuleView) error) error
}

// Flusher persists the row changes of a committed unit of work. A flush
// error aborts the commit.
type Flusher interface {
	Flush(ctx context.Context, changes ChangeSet) error
}

// CommitEvent describes one commit attempt.
type CommitEvent struct {
	Session  string
	Duration time.Duration
	Changes  ChangeSet
	Result   Result
	Err      error
}

// CommitObserver receives an event for every commit attempt.
type CommitObserver interface {
	ObserveCommit(CommitEvent)
}
