package memory

import (
	"synopsis/pkg/domain"
)

// loader materialises committed rows into session entities. Loading an
// entity pulls in its neighbours so every collection of a tracked entity
// holds tracked pointers; the caller must hold the store lock.
type loader struct {
	sess  *Session
	state *memoryState
	queue []domain.Entity
}

func (sess *Session) newLoader(state *memoryState) *loader {
	return &loader{sess: sess, state: state}
}

func (l *loader) host(id int64) *domain.Host {
	if h, ok := l.sess.hosts[id]; ok {
		return h
	}
	rec, ok := l.state.hosts[id]
	if !ok {
		return nil
	}
	h := &domain.Host{ID: rec.ID, Name: rec.Name, Endpoint: rec.Endpoint}
	l.sess.hosts[id] = h
	l.enqueue(h)
	return h
}

func (l *loader) service(id int64) *domain.Service {
	if s, ok := l.sess.services[id]; ok {
		return s
	}
	rec, ok := l.state.services[id]
	if !ok {
		return nil
	}
	s := &domain.Service{ID: rec.ID, HostID: rec.Clone().HostID, Name: rec.Name, Alias: rec.Alias}
	l.sess.services[id] = s
	l.enqueue(s)
	return s
}

func (l *loader) hostGroup(id int64) *domain.HostGroup {
	if g, ok := l.sess.hgroups[id]; ok {
		return g
	}
	rec, ok := l.state.hostGroups[id]
	if !ok {
		return nil
	}
	g := &domain.HostGroup{ID: rec.ID, Name: rec.Name}
	l.sess.hgroups[id] = g
	l.enqueue(g)
	return g
}

func (l *loader) serviceGroup(id int64) *domain.ServiceGroup {
	if g, ok := l.sess.sgroups[id]; ok {
		return g
	}
	rec, ok := l.state.serviceGroups[id]
	if !ok {
		return nil
	}
	g := &domain.ServiceGroup{ID: rec.ID, Name: rec.Name}
	l.sess.sgroups[id] = g
	l.enqueue(g)
	return g
}

func (l *loader) enqueue(e domain.Entity) {
	l.sess.track(e, nil)
	l.queue = append(l.queue, e)
}

// run materialises every queued entity, and whatever they pull in, until
// the connected component is loaded.
func (l *loader) run() {
	for len(l.queue) > 0 {
		e := l.queue[0]
		l.queue = l.queue[1:]
		l.materialize(e)
	}
}

// materialize overwrites the attributes and collections of e with committed
// state and records the result as its snapshot.
func (l *loader) materialize(e domain.Entity) {
	var rec domain.Record
	switch v := e.(type) {
	case *domain.Host:
		r := l.state.hosts[v.ID]
		rec = r
		v.Name, v.Endpoint = r.Name, r.Endpoint
		v.HostGroups = v.HostGroups[:0:0]
		for _, id := range groupsOf(l.state.hostLinks, v.ID) {
			v.HostGroups = append(v.HostGroups, l.hostGroup(id))
		}
		v.Services = v.Services[:0:0]
		for _, id := range l.state.servicesOn(v.ID) {
			v.Services = append(v.Services, l.service(id))
		}
	case *domain.Service:
		r := l.state.services[v.ID].Clone()
		rec = r
		v.Name, v.Alias, v.HostID = r.Name, r.Alias, r.Clone().HostID
		v.Host = nil
		if r.HostID != nil {
			// a dangling reference keeps HostID but has no loaded Host
			v.Host = l.host(*r.HostID)
		}
		v.ServiceGroups = v.ServiceGroups[:0:0]
		for _, id := range groupsOf(l.state.serviceLinks, v.ID) {
			v.ServiceGroups = append(v.ServiceGroups, l.serviceGroup(id))
		}
	case *domain.HostGroup:
		r := l.state.hostGroups[v.ID]
		rec = r
		v.Name = r.Name
		v.Hosts = v.Hosts[:0:0]
		for _, id := range membersOf(l.state.hostLinks, v.ID) {
			v.Hosts = append(v.Hosts, l.host(id))
		}
	case *domain.ServiceGroup:
		r := l.state.serviceGroups[v.ID]
		rec = r
		v.Name = r.Name
		v.Services = v.Services[:0:0]
		for _, id := range membersOf(l.state.serviceLinks, v.ID) {
			v.Services = append(v.Services, l.service(id))
		}
	}
	l.sess.tracked[e] = takeSnapshot(e, rec)
}

// snapshotOf builds the committed image of an entity the caller attached
// with its own pending edits, loading its committed neighbours.
func (l *loader) snapshotOf(e domain.Entity) *snapshot {
	id := entityID(e)
	snap := &snapshot{}
	switch e.(type) {
	case *domain.Host:
		snap.record = l.state.hosts[id]
		for _, gid := range groupsOf(l.state.hostLinks, id) {
			snap.members = append(snap.members, l.hostGroup(gid))
		}
		for _, sid := range l.state.servicesOn(id) {
			snap.services = append(snap.services, l.service(sid))
		}
	case *domain.Service:
		r := l.state.services[id].Clone()
		snap.record = r
		if r.HostID != nil {
			if h := l.host(*r.HostID); h != nil {
				snap.host = h
			}
		}
		for _, gid := range groupsOf(l.state.serviceLinks, id) {
			snap.members = append(snap.members, l.serviceGroup(gid))
		}
	case *domain.HostGroup:
		snap.record = l.state.hostGroups[id]
		for _, hid := range membersOf(l.state.hostLinks, id) {
			snap.members = append(snap.members, l.host(hid))
		}
	case *domain.ServiceGroup:
		snap.record = l.state.serviceGroups[id]
		for _, sid := range membersOf(l.state.serviceLinks, id) {
			snap.members = append(snap.members, l.service(sid))
		}
	}
	return snap
}
