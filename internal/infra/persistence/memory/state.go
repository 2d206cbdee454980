package memory

import (
	"sort"

	"synopsis/pkg/domain"
)

type memoryState struct {
	hosts         map[int64]domain.HostRecord
	services      map[int64]domain.ServiceRecord
	hostGroups    map[int64]domain.GroupRecord
	serviceGroups map[int64]domain.GroupRecord
	hostLinks     map[domain.Link]struct{}
	serviceLinks  map[domain.Link]struct{}
	sequences     map[domain.EntityType]int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Hosts              []domain.HostRecord         `json:"hosts"`
	Services           []domain.ServiceRecord      `json:"services"`
	HostGroups         []domain.GroupRecord        `json:"hostgroups"`
	ServiceGroups      []domain.GroupRecord        `json:"servicegroups"`
	HostMemberships    []domain.Link               `json:"hosts_hostgroups"`
	ServiceMemberships []domain.Link               `json:"services_servicegroups"`
	Sequences          map[domain.EntityType]int64 `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		hosts:         make(map[int64]domain.HostRecord),
		services:      make(map[int64]domain.ServiceRecord),
		hostGroups:    make(map[int64]domain.GroupRecord),
		serviceGroups: make(map[int64]domain.GroupRecord),
		hostLinks:     make(map[domain.Link]struct{}),
		serviceLinks:  make(map[domain.Link]struct{}),
		sequences:     make(map[domain.EntityType]int64),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.hosts {
		c.hosts[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v.Clone()
	}
	for k, v := range s.hostGroups {
		c.hostGroups[k] = v
	}
	for k, v := range s.serviceGroups {
		c.serviceGroups[k] = v
	}
	for k := range s.hostLinks {
		c.hostLinks[k] = struct{}{}
	}
	for k := range s.serviceLinks {
		c.serviceLinks[k] = struct{}{}
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func (s *memoryState) links(entity domain.EntityType) map[domain.Link]struct{} {
	if entity == domain.EntityServiceMembership {
		return s.serviceLinks
	}
	return s.hostLinks
}

func (s *memoryState) exists(entity domain.EntityType, id int64) bool {
	var ok bool
	switch entity {
	case domain.EntityHost:
		_, ok = s.hosts[id]
	case domain.EntityService:
		_, ok = s.services[id]
	case domain.EntityHostGroup:
		_, ok = s.hostGroups[id]
	case domain.EntityServiceGroup:
		_, ok = s.serviceGroups[id]
	}
	return ok
}

func (s *memoryState) record(entity domain.EntityType, id int64) (domain.Record, bool) {
	switch entity {
	case domain.EntityHost:
		r, ok := s.hosts[id]
		return r, ok
	case domain.EntityService:
		r, ok := s.services[id]
		return r.Clone(), ok
	case domain.EntityHostGroup:
		r, ok := s.hostGroups[id]
		return r, ok
	case domain.EntityServiceGroup:
		r, ok := s.serviceGroups[id]
		return r, ok
	}
	return nil, false
}

func (s *memoryState) write(entity domain.EntityType, rec domain.Record) {
	switch r := rec.(type) {
	case domain.HostRecord:
		s.hosts[r.ID] = r
	case domain.ServiceRecord:
		s.services[r.ID] = r.Clone()
	case domain.GroupRecord:
		if entity == domain.EntityServiceGroup {
			s.serviceGroups[r.ID] = r
		} else {
			s.hostGroups[r.ID] = r
		}
	}
}

func (s *memoryState) remove(entity domain.EntityType, id int64) {
	switch entity {
	case domain.EntityHost:
		delete(s.hosts, id)
	case domain.EntityService:
		delete(s.services, id)
	case domain.EntityHostGroup:
		delete(s.hostGroups, id)
	case domain.EntityServiceGroup:
		delete(s.serviceGroups, id)
	}
}

// nextID advances the table sequence. Ids are never reused, even after the
// row holding the highest id is deleted.
func (s *memoryState) nextID(entity domain.EntityType) int64 {
	s.sequences[entity]++
	return s.sequences[entity]
}

// reserveID moves the sequence past an explicitly assigned id.
func (s *memoryState) reserveID(entity domain.EntityType, id int64) {
	if id > s.sequences[entity] {
		s.sequences[entity] = id
	}
}

func (s *memoryState) count(entity domain.EntityType) int {
	switch entity {
	case domain.EntityHost:
		return len(s.hosts)
	case domain.EntityService:
		return len(s.services)
	case domain.EntityHostGroup:
		return len(s.hostGroups)
	case domain.EntityServiceGroup:
		return len(s.serviceGroups)
	case domain.EntityHostMembership:
		return len(s.hostLinks)
	case domain.EntityServiceMembership:
		return len(s.serviceLinks)
	}
	return 0
}

// groupsOf returns the ids of the groups a member is linked to, ascending.
func groupsOf(links map[domain.Link]struct{}, memberID int64) []int64 {
	var out []int64
	for l := range links {
		if l.Left == memberID {
			out = append(out, l.Right)
		}
	}
	sortIDs(out)
	return out
}

func membersOf(links map[domain.Link]struct{}, groupID int64) []int64 {
	var out []int64
	for l := range links {
		if l.Right == groupID {
			out = append(out, l.Left)
		}
	}
	sortIDs(out)
	return out
}

func (s *memoryState) servicesOn(hostID int64) []int64 {
	var out []int64
	for id, svc := range s.services {
		if svc.HostID != nil && *svc.HostID == hostID {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortedLinks(links map[domain.Link]struct{}) []domain.Link {
	out := make([]domain.Link, 0, len(links))
	for l := range links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Left != out[j].Left {
			return out[i].Left < out[j].Left
		}
		return out[i].Right < out[j].Right
	})
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{Sequences: make(map[domain.EntityType]int64, len(state.sequences))}
	for _, id := range sortedKeys(state.hosts) {
		s.Hosts = append(s.Hosts, state.hosts[id])
	}
	for _, id := range sortedKeys(state.services) {
		s.Services = append(s.Services, state.services[id].Clone())
	}
	for _, id := range sortedKeys(state.hostGroups) {
		s.HostGroups = append(s.HostGroups, state.hostGroups[id])
	}
	for _, id := range sortedKeys(state.serviceGroups) {
		s.ServiceGroups = append(s.ServiceGroups, state.serviceGroups[id])
	}
	s.HostMemberships = sortedLinks(state.hostLinks)
	s.ServiceMemberships = sortedLinks(state.serviceLinks)
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	return s
}

// memoryStateFromSnapshot rebuilds state from a snapshot. Links whose rows
// are missing are dropped and sequences are moved past the highest stored id.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	for _, r := range s.Hosts {
		state.hosts[r.ID] = r
		state.reserveID(domain.EntityHost, r.ID)
	}
	for _, r := range s.Services {
		state.services[r.ID] = r.Clone()
		state.reserveID(domain.EntityService, r.ID)
	}
	for _, r := range s.HostGroups {
		state.hostGroups[r.ID] = r
		state.reserveID(domain.EntityHostGroup, r.ID)
	}
	for _, r := range s.ServiceGroups {
		state.serviceGroups[r.ID] = r
		state.reserveID(domain.EntityServiceGroup, r.ID)
	}
	for _, l := range s.HostMemberships {
		if state.exists(domain.EntityHost, l.Left) && state.exists(domain.EntityHostGroup, l.Right) {
			state.hostLinks[l] = struct{}{}
		}
	}
	for _, l := range s.ServiceMemberships {
		if state.exists(domain.EntityService, l.Left) && state.exists(domain.EntityServiceGroup, l.Right) {
			state.serviceLinks[l] = struct{}{}
		}
	}
	return state
}

// stateView exposes a read-only view of a state to rules.
type stateView struct {
	state *memoryState
}

func newStateView(state *memoryState) domain.RuleView {
	return stateView{state: state}
}

func (v stateView) ListHosts() []domain.HostRecord {
	out := make([]domain.HostRecord, 0, len(v.state.hosts))
	for _, id := range sortedKeys(v.state.hosts) {
		out = append(out, v.state.hosts[id])
	}
	return out
}

func (v stateView) ListServices() []domain.ServiceRecord {
	out := make([]domain.ServiceRecord, 0, len(v.state.services))
	for _, id := range sortedKeys(v.state.services) {
		out = append(out, v.state.services[id].Clone())
	}
	return out
}

func (v stateView) ListHostGroups() []domain.GroupRecord {
	out := make([]domain.GroupRecord, 0, len(v.state.hostGroups))
	for _, id := range sortedKeys(v.state.hostGroups) {
		out = append(out, v.state.hostGroups[id])
	}
	return out
}

func (v stateView) ListServiceGroups() []domain.GroupRecord {
	out := make([]domain.GroupRecord, 0, len(v.state.serviceGroups))
	for _, id := range sortedKeys(v.state.serviceGroups) {
		out = append(out, v.state.serviceGroups[id])
	}
	return out
}

func (v stateView) FindHost(id int64) (domain.HostRecord, bool) {
	r, ok := v.state.hosts[id]
	return r, ok
}

func (v stateView) FindService(id int64) (domain.ServiceRecord, bool) {
	r, ok := v.state.services[id]
	return r.Clone(), ok
}

func (v stateView) FindHostGroup(id int64) (domain.GroupRecord, bool) {
	r, ok := v.state.hostGroups[id]
	return r, ok
}

func (v stateView) FindServiceGroup(id int64) (domain.GroupRecord, bool) {
	r, ok := v.state.serviceGroups[id]
	return r, ok
}

func (v stateView) HostMemberships() []domain.Link { return sortedLinks(v.state.hostLinks) }

func (v stateView) ServiceMemberships() []domain.Link { return sortedLinks(v.state.serviceLinks) }
