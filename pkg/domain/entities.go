// Package domain defines the inventory entities tracked by synopsis (hosts,
// the services checked on them, and named groupings of each), their stored
// records, the health-state enumerations, and the rule primitives evaluated
// when a unit of work commits.
package domain

// EntityType identifies the type of record stored in the inventory. Entity
// types double as table names.
type EntityType string

// Supported entity type identifiers used in Change records and persistence tables.
const (
	// EntityHost identifies a monitored endpoint.
	EntityHost EntityType = "hosts"
	// EntityService identifies a check attached to a host.
	EntityService EntityType = "services"
	// EntityHostGroup identifies a named grouping of hosts.
	EntityHostGroup EntityType = "hostgroups"
	// EntityServiceGroup identifies a named grouping of services.
	EntityServiceGroup EntityType = "servicegroups"
	// EntityHostMembership identifies the host/hostgroup junction relation.
	EntityHostMembership EntityType = "hosts_hostgroups"
	// EntityServiceMembership identifies the service/servicegroup junction relation.
	EntityServiceMembership EntityType = "services_servicegroups"
)

// Entity is implemented by the graph types a unit of work can track.
type Entity interface {
	EntityType() EntityType
}

// Host is a server, VM instance, network device or application reachable
// through a network endpoint.
type Host struct {
	ID       int64
	Name     string
	Endpoint string

	Services   []*Service
	HostGroups []*HostGroup
}

// EntityType implements Entity.
func (*Host) EntityType() EntityType { return EntityHost }

// Record flattens the host into its stored row.
func (h *Host) Record() HostRecord {
	return HostRecord{ID: h.ID, Name: h.Name, Endpoint: h.Endpoint}
}

// Service is an attribute or check monitored on a host. HostID is the stored
// reference; Host is the loaded back-reference.
type Service struct {
	ID     int64
	HostID *int64
	Name   string
	Alias  string

	Host          *Host
	ServiceGroups []*ServiceGroup
}

// EntityType implements Entity.
func (*Service) EntityType() EntityType { return EntityService }

// Record flattens the service into its stored row.
func (s *Service) Record() ServiceRecord {
	return ServiceRecord{ID: s.ID, HostID: cloneID(s.HostID), Name: s.Name, Alias: s.Alias}
}

// HostGroup is a named set of hosts.
type HostGroup struct {
	ID    int64
	Name  string
	Hosts []*Host
}

// EntityType implements Entity.
func (*HostGroup) EntityType() EntityType { return EntityHostGroup }

// Record flattens the group into its stored row.
func (g *HostGroup) Record() GroupRecord {
	return GroupRecord{ID: g.ID, Name: g.Name}
}

// ServiceGroup is a named set of services.
type ServiceGroup struct {
	ID       int64
	Name     string
	Services []*Service
}

// EntityType implements Entity.
func (*ServiceGroup) EntityType() EntityType { return EntityServiceGroup }

// Record flattens the group into its stored row.
func (g *ServiceGroup) Record() GroupRecord {
	return GroupRecord{ID: g.ID, Name: g.Name}
}

// HostGroupNames lists the names of the groups the host belongs to.
func (h *Host) HostGroupNames() []string {
	names := make([]string, 0, len(h.HostGroups))
	for _, g := range h.HostGroups {
		if g != nil {
			names = append(names, g.Name)
		}
	}
	return names
}

// HostNames lists the names of the group's member hosts.
func (g *HostGroup) HostNames() []string {
	names := make([]string, 0, len(g.Hosts))
	for _, h := range g.Hosts {
		if h != nil {
			names = append(names, h.Name)
		}
	}
	return names
}

// ServiceNames lists the names of the group's member services.
func (g *ServiceGroup) ServiceNames() []string {
	names := make([]string, 0, len(g.Services))
	for _, s := range g.Services {
		if s != nil {
			names = append(names, s.Name)
		}
	}
	return names
}

// IDRef returns a pointer to a copy of id, for optional references.
func IDRef(id int64) *int64 {
	return &id
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
