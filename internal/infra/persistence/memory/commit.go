package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

// Commit validates every pending change against a tentative copy of the
// committed state and, when all constraints hold and the backend accepts the
// change set, makes it durable. On failure the store is untouched and the
// session keeps its pending changes for correction and retry.
func (sess *Session) Commit(ctx context.Context) error {
	_, err := sess.commit(ctx)
	return err
}

func (sess *Session) commit(ctx context.Context) (Result, error) {
	st := sess.store
	start := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	p := &commitPlan{sess: sess, schema: st.schema}
	res, err := p.run(ctx)
	event := domain.CommitEvent{
		Session:  sess.id,
		Duration: time.Since(start),
		Changes:  p.changeSet(),
		Result:   res,
		Err:      err,
	}
	if st.observer != nil {
		st.observer.ObserveCommit(event)
	}
	fields := logrus.Fields{"changes": len(p.changes), "duration": event.Duration}
	if err != nil {
		sess.log.WithFields(fields).WithError(err).Warn("commit failed")
		return res, err
	}
	for _, v := range res.Violations {
		sess.log.WithFields(logrus.Fields{"rule": v.Rule, "severity": v.Severity, "entity": v.Entity, "id": v.EntityID}).Info(v.Message)
	}
	sess.log.WithFields(fields).Debug("commit")
	return res, nil
}

type hostRef struct {
	host *domain.Host
	id   *int64
}

type commitPlan struct {
	sess     *Session
	schema   *domain.Schema
	state    memoryState
	ids      map[domain.Entity]int64
	claimed  map[domain.EntityType]map[int64]struct{}
	hostRefs map[*domain.Service]hostRef
	cascaded map[int64]struct{}
	changes  []domain.Change
}

func (p *commitPlan) run(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	st := p.sess.store
	if err := p.sess.cascade(&st.state); err != nil {
		return Result{}, err
	}
	p.state = st.state.clone()
	if err := p.assignIDs(); err != nil {
		return Result{}, err
	}
	if err := p.resolveHostRefs(); err != nil {
		return Result{}, err
	}
	if err := p.applyDeletes(); err != nil {
		return Result{}, err
	}
	if err := p.applyRows(); err != nil {
		return Result{}, err
	}
	p.applyLinks()

	res, err := st.integrityEngine().Evaluate(ctx, newStateView(&p.state), p.changes)
	if err != nil {
		return Result{}, err
	}
	if err := res.Err(); err != nil {
		return res, err
	}
	if st.backend != nil && len(p.changes) > 0 {
		if err := st.backend.Flush(ctx, p.changeSet()); err != nil {
			return res, fmt.Errorf("flush: %w", err)
		}
	}
	st.state = p.state
	p.sess.synchronize(p.ids)
	return res, nil
}

func (p *commitPlan) changeSet() domain.ChangeSet {
	set := domain.ChangeSet{Changes: p.changes, Sequences: make(map[domain.EntityType]int64)}
	for k, v := range p.state.sequences {
		set.Sequences[k] = v
	}
	return set
}

func (p *commitPlan) record(c domain.Change) {
	p.changes = append(p.changes, c)
}

// cascade pulls every entity reachable from a tracked entity into the
// session and rejects nil members before anything is written.
func (sess *Session) cascade(state *memoryState) error {
	queue := make([]domain.Entity, 0, len(sess.order))
	for _, e := range sess.order {
		if _, gone := sess.deleted[e]; !gone {
			queue = append(queue, e)
		}
	}
	seen := make(map[domain.Entity]struct{}, len(queue))
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		rel, _ := relation(e)
		neighbours := members(e)
		for _, m := range neighbours {
			if m == nil {
				return &domain.NullMembershipError{Table: e.EntityType(), ID: entityID(e), Relation: rel}
			}
		}
		switch v := e.(type) {
		case *domain.Host:
			for _, s := range v.Services {
				if s == nil {
					return &domain.NullMembershipError{Table: domain.EntityHost, ID: v.ID, Relation: "services"}
				}
				neighbours = append(neighbours, s)
			}
		case *domain.Service:
			if v.Host != nil {
				neighbours = append(neighbours, v.Host)
			}
		}
		for _, n := range neighbours {
			if _, ok := sess.tracked[n]; ok {
				continue
			}
			if err := sess.attach(state, n); err != nil {
				return err
			}
			queue = append(queue, n)
		}
	}
	return nil
}

// idOf returns the primary key an entity has, or will have, in this commit.
func (p *commitPlan) idOf(e domain.Entity) int64 {
	if snap := p.sess.tracked[e]; snap != nil {
		return snap.record.RecordID()
	}
	return p.ids[e]
}

func (p *commitPlan) assignIDs() error {
	p.ids = make(map[domain.Entity]int64)
	p.claimed = make(map[domain.EntityType]map[int64]struct{})
	for _, e := range p.sess.order {
		snap := p.sess.tracked[e]
		entity := e.EntityType()
		if snap != nil {
			if entityID(e) != snap.record.RecordID() {
				return fmt.Errorf("%s %d: primary key changed to %d", entity, snap.record.RecordID(), entityID(e))
			}
			continue
		}
		if _, gone := p.sess.deleted[e]; gone {
			continue
		}
		id := entityID(e)
		if id == 0 {
			id = p.state.nextID(entity)
		} else {
			if _, dup := p.claimed[entity][id]; dup || p.state.exists(entity, id) {
				table := p.schema.Table(entity).Name
				return &domain.IntegrityError{
					Kind:       domain.ConstraintUnique,
					Constraint: schema.ConstraintName(table, "id", schema.SuffixPrimaryKey),
					Table:      table,
					Column:     "id",
					Value:      id,
				}
			}
			p.state.reserveID(entity, id)
		}
		if p.claimed[entity] == nil {
			p.claimed[entity] = make(map[int64]struct{})
		}
		p.claimed[entity][id] = struct{}{}
		p.ids[e] = id
	}
	return nil
}

// resolveHostRefs works out which services get a new host_id. Edits to a
// host's Services collection apply first; a change on the service itself
// (its Host pointer, then its HostID) overrides them.
func (p *commitPlan) resolveHostRefs() error {
	refs := make(map[*domain.Service]hostRef)
	var hosts []*domain.Host
	for _, e := range p.sess.order {
		if h, ok := e.(*domain.Host); ok && !p.isDeleted(e) {
			hosts = append(hosts, h)
		}
	}
	for _, h := range hosts {
		snap := p.sess.tracked[h]
		if snap == nil {
			continue
		}
		current := make(map[*domain.Service]struct{}, len(h.Services))
		for _, s := range h.Services {
			current[s] = struct{}{}
		}
		for _, s := range snap.services {
			if _, still := current[s]; !still {
				refs[s] = hostRef{}
			}
		}
	}
	for _, h := range hosts {
		prev := make(map[*domain.Service]struct{})
		if snap := p.sess.tracked[h]; snap != nil {
			for _, s := range snap.services {
				prev[s] = struct{}{}
			}
		}
		for _, s := range h.Services {
			if _, had := prev[s]; !had {
				refs[s] = hostRef{host: h}
			}
		}
	}
	for _, e := range p.sess.order {
		s, ok := e.(*domain.Service)
		if !ok || p.isDeleted(e) {
			continue
		}
		snap := p.sess.tracked[s]
		switch {
		case snap == nil:
			if s.Host != nil {
				refs[s] = hostRef{host: s.Host}
			} else if s.HostID != nil {
				refs[s] = hostRef{id: s.HostID}
			} else if _, ok := refs[s]; !ok {
				refs[s] = hostRef{}
			}
		case s.Host != snap.host:
			prevID := snap.record.(domain.ServiceRecord).HostID
			if s.Host == nil && !domain.SameRef(s.HostID, prevID) {
				refs[s] = hostRef{id: s.HostID}
			} else {
				refs[s] = hostRef{host: s.Host}
			}
		case !domain.SameRef(s.HostID, snap.record.(domain.ServiceRecord).HostID):
			refs[s] = hostRef{id: s.HostID}
		}
	}
	p.hostRefs = refs
	return nil
}

func (p *commitPlan) resolvedHostID(s *domain.Service) (*int64, bool) {
	ref, ok := p.hostRefs[s]
	if !ok {
		return nil, false
	}
	if ref.host != nil {
		return domain.IDRef(p.idOf(ref.host)), true
	}
	if ref.id != nil {
		return domain.IDRef(*ref.id), true
	}
	return nil, true
}

func (p *commitPlan) isDeleted(e domain.Entity) bool {
	_, gone := p.sess.deleted[e]
	return gone
}

func (p *commitPlan) applyDeletes() error {
	p.cascaded = make(map[int64]struct{})
	deleted := make([]domain.Entity, 0, len(p.sess.deleted))
	for e := range p.sess.deleted {
		deleted = append(deleted, e)
	}
	sort.Slice(deleted, func(i, j int) bool {
		ri, rj := entityRank[deleted[i].EntityType()], entityRank[deleted[j].EntityType()]
		if ri != rj {
			return ri < rj
		}
		return p.idOf(deleted[i]) < p.idOf(deleted[j])
	})
	for _, e := range deleted {
		entity := e.EntityType()
		id := p.idOf(e)
		before, ok := p.state.record(entity, id)
		if !ok {
			if entity == domain.EntityService {
				if _, done := p.cascaded[id]; done {
					continue
				}
			}
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		p.deleteRow(entity, before)
		if entity == domain.EntityHost {
			p.applyHostDeletePolicy(id)
		}
	}
	return nil
}

func (p *commitPlan) deleteRow(entity domain.EntityType, before domain.Record) {
	id := before.RecordID()
	p.state.remove(entity, id)
	p.record(domain.Change{Entity: entity, Action: domain.ActionDelete, Before: before})

	junction := domain.EntityHostMembership
	left := entity == domain.EntityHost
	if entity == domain.EntityService || entity == domain.EntityServiceGroup {
		junction = domain.EntityServiceMembership
		left = entity == domain.EntityService
	}
	links := p.state.links(junction)
	for _, l := range sortedLinks(links) {
		if (left && l.Left == id) || (!left && l.Right == id) {
			delete(links, l)
			p.record(domain.Change{Entity: junction, Action: domain.ActionDelete, Before: l})
		}
	}
}

func (p *commitPlan) applyHostDeletePolicy(hostID int64) {
	switch p.sess.store.policy {
	case domain.NullifyServices:
		for _, sid := range p.state.servicesOn(hostID) {
			before := p.state.services[sid].Clone()
			after := before.Clone()
			after.HostID = nil
			p.state.write(domain.EntityService, after)
			p.record(domain.Change{Entity: domain.EntityService, Action: domain.ActionUpdate, Before: before, After: after})
		}
	case domain.CascadeServices:
		for _, sid := range p.state.servicesOn(hostID) {
			p.deleteRow(domain.EntityService, p.state.services[sid].Clone())
			p.cascaded[sid] = struct{}{}
		}
	}
}

// applyRows writes pending inserts and edited tracked entities.
func (p *commitPlan) applyRows() error {
	for _, e := range p.sess.order {
		if p.isDeleted(e) {
			continue
		}
		entity := e.EntityType()
		snap := p.sess.tracked[e]
		if snap == nil {
			rec := p.rowOf(e, p.ids[e], nil)
			p.state.write(entity, rec)
			p.record(domain.Change{Entity: entity, Action: domain.ActionCreate, After: rec})
			continue
		}
		id := snap.record.RecordID()
		if entity == domain.EntityService {
			if _, gone := p.cascaded[id]; gone {
				continue
			}
		}
		if !p.dirty(e, snap) {
			continue
		}
		before, ok := p.state.record(entity, id)
		if !ok {
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		after := mergeEdits(before, snap.record, p.rowOf(e, id, before))
		if rowsEqual(before, after) {
			continue
		}
		p.state.write(entity, after)
		p.record(domain.Change{Entity: entity, Action: domain.ActionUpdate, Before: before, After: after})
	}
	return nil
}

// rowOf flattens e. A service keeps the host_id of current unless this
// commit assigns it a new one.
func (p *commitPlan) rowOf(e domain.Entity, id int64, current domain.Record) domain.Record {
	rec := flatten(e)
	switch r := rec.(type) {
	case domain.HostRecord:
		r.ID = id
		return r
	case domain.ServiceRecord:
		r.ID = id
		if hostID, ok := p.resolvedHostID(e.(*domain.Service)); ok {
			r.HostID = hostID
		} else if cur, ok := current.(domain.ServiceRecord); ok {
			r.HostID = cur.Clone().HostID
		}
		return r
	case domain.GroupRecord:
		r.ID = id
		return r
	}
	return rec
}

// mergeEdits writes onto current only the columns edited differs from
// loaded, the row the session saw, so commits from other sessions to the
// remaining columns survive.
func mergeEdits(current, loaded, edited domain.Record) domain.Record {
	switch ed := edited.(type) {
	case domain.HostRecord:
		cur, lo := current.(domain.HostRecord), loaded.(domain.HostRecord)
		if ed.Name == lo.Name {
			ed.Name = cur.Name
		}
		if ed.Endpoint == lo.Endpoint {
			ed.Endpoint = cur.Endpoint
		}
		return ed
	case domain.ServiceRecord:
		cur, lo := current.(domain.ServiceRecord), loaded.(domain.ServiceRecord)
		if ed.Name == lo.Name {
			ed.Name = cur.Name
		}
		if ed.Alias == lo.Alias {
			ed.Alias = cur.Alias
		}
		return ed
	case domain.GroupRecord:
		cur, lo := current.(domain.GroupRecord), loaded.(domain.GroupRecord)
		if ed.Name == lo.Name {
			ed.Name = cur.Name
		}
		return ed
	}
	return edited
}

func (p *commitPlan) dirty(e domain.Entity, snap *snapshot) bool {
	if s, ok := e.(*domain.Service); ok {
		prev := snap.record.(domain.ServiceRecord)
		if _, moved := p.hostRefs[s]; moved {
			return true
		}
		return s.Name != prev.Name || s.Alias != prev.Alias
	}
	return !rowsEqual(flatten(e), snap.record)
}

func rowsEqual(a, b domain.Record) bool {
	if sa, ok := a.(domain.ServiceRecord); ok {
		sb, ok := b.(domain.ServiceRecord)
		return ok && sa.Equal(sb)
	}
	return a == b
}

// applyLinks turns collection edits on either side of a membership into
// junction row changes. Removals apply before additions.
func (p *commitPlan) applyLinks() {
	type edit struct {
		junction domain.EntityType
		link     domain.Link
	}
	var removed, added []edit
	for _, e := range p.sess.order {
		if p.isDeleted(e) {
			continue
		}
		_, junction := relation(e)
		var prev []domain.Entity
		if snap := p.sess.tracked[e]; snap != nil {
			prev = snap.members
		}
		current := members(e)
		prevSet, curSet := entitySet(prev), entitySet(current)
		self := p.idOf(e)
		pair := func(other domain.Entity) domain.Link {
			if memberIsLeft(e) {
				return domain.Link{Left: self, Right: p.idOf(other)}
			}
			return domain.Link{Left: p.idOf(other), Right: self}
		}
		for _, m := range prev {
			if _, still := curSet[m]; !still {
				removed = append(removed, edit{junction, pair(m)})
			}
		}
		for _, m := range current {
			if _, had := prevSet[m]; !had {
				added = append(added, edit{junction, pair(m)})
			}
		}
	}
	for _, r := range removed {
		links := p.state.links(r.junction)
		if _, ok := links[r.link]; ok {
			delete(links, r.link)
			p.record(domain.Change{Entity: r.junction, Action: domain.ActionDelete, Before: r.link})
		}
	}
	for _, a := range added {
		links := p.state.links(a.junction)
		if _, ok := links[a.link]; !ok {
			links[a.link] = struct{}{}
			p.record(domain.Change{Entity: a.junction, Action: domain.ActionCreate, After: a.link})
		}
	}
}

// synchronize is the synchronisation point after a successful commit: new
// entities receive their ids, deleted ones leave the session, and every
// tracked entity is re-materialised from committed rows so both sides of
// each membership agree.
func (sess *Session) synchronize(ids map[domain.Entity]int64) {
	for e := range sess.deleted {
		sess.untrack(e)
	}
	sess.deleted = make(map[domain.Entity]struct{})
	for e, id := range ids {
		setEntityID(e, id)
		sess.remember(e, id)
	}
	state := &sess.store.state
	l := sess.newLoader(state)
	for _, e := range append([]domain.Entity(nil), sess.order...) {
		if !state.exists(e.EntityType(), entityID(e)) {
			sess.untrack(e)
			continue
		}
		l.queue = append(l.queue, e)
	}
	l.run()
}
