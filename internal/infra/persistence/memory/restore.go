package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

// ErrNotEmpty is returned when Restore targets a store that holds rows.
var ErrNotEmpty = errors.New("store is not empty")

// Restore loads snap into an empty store as one commit. Rows keep their
// ids and stored host references, and sequences never move backwards, so
// ids retired before the snapshot was taken stay retired. Links to rows
// missing from snap are dropped. Every other constraint is checked on the
// restored state and the backend receives each row as a create.
func (s *Store) Restore(ctx context.Context, snap Snapshot) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range domain.EntityTypes() {
		if s.state.count(entity) > 0 {
			return Result{}, ErrNotEmpty
		}
	}

	state := memoryStateFromSnapshot(snap)
	for entity, seq := range s.state.sequences {
		state.reserveID(entity, seq)
	}
	cs := domain.ChangeSet{Changes: createChanges(state), Sequences: make(map[domain.EntityType]int64)}
	for k, v := range state.sequences {
		cs.Sequences[k] = v
	}

	res, err := s.integrityEngine().Evaluate(ctx, newStateView(&state), cs.Changes)
	if err == nil {
		res.Violations = withoutStoredHostRefs(s.schema, res.Violations)
		err = res.Err()
	}
	if err == nil && s.backend != nil && len(cs.Changes) > 0 {
		if ferr := s.backend.Flush(ctx, cs); ferr != nil {
			err = fmt.Errorf("flush: %w", ferr)
		}
	}
	if s.observer != nil {
		s.observer.ObserveCommit(domain.CommitEvent{
			Session:  "restore-" + uuid.NewString(),
			Duration: time.Since(start),
			Changes:  cs,
			Result:   res,
			Err:      err,
		})
	}
	if err != nil {
		s.log.WithError(err).Warn("restore failed")
		return res, err
	}
	s.state = state
	s.log.WithFields(logrus.Fields{"changes": len(cs.Changes), "duration": time.Since(start)}).Info("restored snapshot")
	return res, nil
}

// createChanges lists every row of state as a create, parents first.
func createChanges(state memoryState) []domain.Change {
	var out []domain.Change
	for _, id := range sortedKeys(state.hosts) {
		out = append(out, domain.Change{Entity: domain.EntityHost, Action: domain.ActionCreate, After: state.hosts[id]})
	}
	for _, id := range sortedKeys(state.services) {
		out = append(out, domain.Change{Entity: domain.EntityService, Action: domain.ActionCreate, After: state.services[id].Clone()})
	}
	for _, id := range sortedKeys(state.hostGroups) {
		out = append(out, domain.Change{Entity: domain.EntityHostGroup, Action: domain.ActionCreate, After: state.hostGroups[id]})
	}
	for _, id := range sortedKeys(state.serviceGroups) {
		out = append(out, domain.Change{Entity: domain.EntityServiceGroup, Action: domain.ActionCreate, After: state.serviceGroups[id]})
	}
	for _, l := range sortedLinks(state.hostLinks) {
		out = append(out, domain.Change{Entity: domain.EntityHostMembership, Action: domain.ActionCreate, After: l})
	}
	for _, l := range sortedLinks(state.serviceLinks) {
		out = append(out, domain.Change{Entity: domain.EntityServiceMembership, Action: domain.ActionCreate, After: l})
	}
	return out
}

// withoutStoredHostRefs drops host reference failures on services. A
// restored reference to a missing host was retained when that host was
// deleted and is carried over, not written.
func withoutStoredHostRefs(s *domain.Schema, violations []domain.Violation) []domain.Violation {
	name := schema.ConstraintName(s.Services.Name, "host_id", schema.SuffixForeignKey)
	kept := violations[:0:0]
	for _, v := range violations {
		if v.Constraint == domain.ConstraintForeignKey && v.Name == name {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}
