package memory

import (
	"synopsis/pkg/domain"
)

// snapshot is the committed image of a tracked entity: its row and the
// neighbour pointers its collections held at the last synchronisation point.
type snapshot struct {
	record   domain.Record
	members  []domain.Entity
	services []*domain.Service
	host     *domain.Host
}

var entityRank = map[domain.EntityType]int{
	domain.EntityHost:         0,
	domain.EntityService:      1,
	domain.EntityHostGroup:    2,
	domain.EntityServiceGroup: 3,
}

func entityID(e domain.Entity) int64 {
	switch v := e.(type) {
	case *domain.Host:
		return v.ID
	case *domain.Service:
		return v.ID
	case *domain.HostGroup:
		return v.ID
	case *domain.ServiceGroup:
		return v.ID
	}
	return 0
}

func setEntityID(e domain.Entity, id int64) {
	switch v := e.(type) {
	case *domain.Host:
		v.ID = id
	case *domain.Service:
		v.ID = id
	case *domain.HostGroup:
		v.ID = id
	case *domain.ServiceGroup:
		v.ID = id
	}
}

func isNilEntity(e domain.Entity) bool {
	switch v := e.(type) {
	case nil:
		return true
	case *domain.Host:
		return v == nil
	case *domain.Service:
		return v == nil
	case *domain.HostGroup:
		return v == nil
	case *domain.ServiceGroup:
		return v == nil
	}
	return true
}

// relation names the membership collection of an entity and the junction it
// is stored in.
func relation(e domain.Entity) (string, domain.EntityType) {
	switch e.(type) {
	case *domain.Host:
		return "hostgroups", domain.EntityHostMembership
	case *domain.HostGroup:
		return "hosts", domain.EntityHostMembership
	case *domain.Service:
		return "servicegroups", domain.EntityServiceMembership
	default:
		return "services", domain.EntityServiceMembership
	}
}

// members returns the many-to-many collection of e. Nil entries are kept so
// the caller can report them.
func members(e domain.Entity) []domain.Entity {
	var out []domain.Entity
	switch v := e.(type) {
	case *domain.Host:
		for _, g := range v.HostGroups {
			out = append(out, nilOr(g, g == nil))
		}
	case *domain.HostGroup:
		for _, h := range v.Hosts {
			out = append(out, nilOr(h, h == nil))
		}
	case *domain.Service:
		for _, g := range v.ServiceGroups {
			out = append(out, nilOr(g, g == nil))
		}
	case *domain.ServiceGroup:
		for _, s := range v.Services {
			out = append(out, nilOr(s, s == nil))
		}
	}
	return out
}

func nilOr(e domain.Entity, isNil bool) domain.Entity {
	if isNil {
		return nil
	}
	return e
}

func setMembers(e domain.Entity, list []domain.Entity) {
	switch v := e.(type) {
	case *domain.Host:
		v.HostGroups = make([]*domain.HostGroup, 0, len(list))
		for _, m := range list {
			v.HostGroups = append(v.HostGroups, m.(*domain.HostGroup))
		}
	case *domain.HostGroup:
		v.Hosts = make([]*domain.Host, 0, len(list))
		for _, m := range list {
			v.Hosts = append(v.Hosts, m.(*domain.Host))
		}
	case *domain.Service:
		v.ServiceGroups = make([]*domain.ServiceGroup, 0, len(list))
		for _, m := range list {
			v.ServiceGroups = append(v.ServiceGroups, m.(*domain.ServiceGroup))
		}
	case *domain.ServiceGroup:
		v.Services = make([]*domain.Service, 0, len(list))
		for _, m := range list {
			v.Services = append(v.Services, m.(*domain.Service))
		}
	}
}

// memberIsLeft reports whether e sits in the Left column of its junction.
func memberIsLeft(e domain.Entity) bool {
	switch e.(type) {
	case *domain.Host, *domain.Service:
		return true
	}
	return false
}

func flatten(e domain.Entity) domain.Record {
	switch v := e.(type) {
	case *domain.Host:
		return v.Record()
	case *domain.Service:
		return v.Record()
	case *domain.HostGroup:
		return v.Record()
	case *domain.ServiceGroup:
		return v.Record()
	}
	return nil
}

// restore puts e back to its committed image.
func restore(e domain.Entity, snap *snapshot) {
	switch v := e.(type) {
	case *domain.Host:
		r := snap.record.(domain.HostRecord)
		v.ID, v.Name, v.Endpoint = r.ID, r.Name, r.Endpoint
		v.Services = append([]*domain.Service(nil), snap.services...)
	case *domain.Service:
		r := snap.record.(domain.ServiceRecord).Clone()
		v.ID, v.HostID, v.Name, v.Alias = r.ID, r.HostID, r.Name, r.Alias
		v.Host = snap.host
	case *domain.HostGroup:
		r := snap.record.(domain.GroupRecord)
		v.ID, v.Name = r.ID, r.Name
	case *domain.ServiceGroup:
		r := snap.record.(domain.GroupRecord)
		v.ID, v.Name = r.ID, r.Name
	}
	setMembers(e, snap.members)
}

func takeSnapshot(e domain.Entity, rec domain.Record) *snapshot {
	snap := &snapshot{record: rec, members: members(e)}
	switch v := e.(type) {
	case *domain.Host:
		snap.services = append([]*domain.Service(nil), v.Services...)
	case *domain.Service:
		snap.host = v.Host
	}
	return snap
}

func entitySet(list []domain.Entity) map[domain.Entity]struct{} {
	set := make(map[domain.Entity]struct{}, len(list))
	for _, e := range list {
		set[e] = struct{}{}
	}
	return set
}
