package domain

import (
	"fmt"

	"synopsis/pkg/schema"
)

// Column length limits.
const (
	NameLength     = 64
	EndpointLength = 128
	AliasLength    = 128
)

// Schema binds the inventory entity types to their table definitions in a
// schema registry.
type Schema struct {
	Registry *schema.Registry

	Hosts         *schema.Table
	Services      *schema.Table
	HostGroups    *schema.Table
	ServiceGroups *schema.Table

	HostMemberships    *schema.Table
	ServiceMemberships *schema.Table
}

// NewSchema declares the inventory tables on reg. Each many-to-many edge is
// requested from both of its sides and both must resolve to one relation.
func NewSchema(reg *schema.Registry) (*Schema, error) {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	s := &Schema{Registry: reg}
	var err error
	if s.Hosts, err = reg.Define(string(EntityHost),
		idColumn(),
		nameColumn(),
		schema.Column{Name: "endpoint", Type: schema.TypeString, Length: EndpointLength, NotNull: true},
	); err != nil {
		return nil, err
	}
	if s.Services, err = reg.Define(string(EntityService),
		idColumn(),
		schema.Column{Name: "host_id", Type: schema.TypeInteger, References: &schema.ForeignKey{Table: string(EntityHost), Column: "id", Logical: true}},
		nameColumn(),
		schema.Column{Name: "alias", Type: schema.TypeString, Length: AliasLength, NotNull: true},
	); err != nil {
		return nil, err
	}
	if s.HostGroups, err = reg.Define(string(EntityHostGroup), idColumn(), nameColumn()); err != nil {
		return nil, err
	}
	if s.ServiceGroups, err = reg.Define(string(EntityServiceGroup), idColumn(), nameColumn()); err != nil {
		return nil, err
	}

	if s.HostMemberships, err = bothSides(reg, EntityHost, EntityHostGroup); err != nil {
		return nil, err
	}
	if s.ServiceMemberships, err = bothSides(reg, EntityService, EntityServiceGroup); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSchema is NewSchema on a fresh registry, panicking on error.
func MustSchema() *Schema {
	s, err := NewSchema(nil)
	if err != nil {
		panic(err)
	}
	return s
}

func bothSides(reg *schema.Registry, member, group EntityType) (*schema.Table, error) {
	fromMember := reg.Association(string(member), string(group))
	fromGroup := reg.Association(string(group), string(member))
	if fromMember != fromGroup {
		return nil, fmt.Errorf("schema: %s/%s resolved to %s and %s", member, group, fromMember.Name, fromGroup.Name)
	}
	return fromMember, nil
}

func idColumn() schema.Column {
	return schema.Column{Name: "id", Type: schema.TypeInteger, PrimaryKey: true}
}

func nameColumn() schema.Column {
	return schema.Column{Name: "name", Type: schema.TypeString, Length: NameLength, Unique: true, NotNull: true}
}

// Table returns the table backing an entity type. Membership types resolve
// to the junction relation whatever name it was registered under.
func (s *Schema) Table(entity EntityType) *schema.Table {
	switch entity {
	case EntityHost:
		return s.Hosts
	case EntityService:
		return s.Services
	case EntityHostGroup:
		return s.HostGroups
	case EntityServiceGroup:
		return s.ServiceGroups
	case EntityHostMembership:
		return s.HostMemberships
	case EntityServiceMembership:
		return s.ServiceMemberships
	default:
		return nil
	}
}

// LinkColumns returns the junction columns holding the member id and the
// group id of a membership relation.
func (s *Schema) LinkColumns(entity EntityType) (member, group string) {
	tbl := s.Table(entity)
	memberTable := EntityHost
	if entity == EntityServiceMembership {
		memberTable = EntityService
	}
	for i, c := range tbl.Columns {
		if c.References != nil && c.References.Table == string(memberTable) && member == "" {
			member = c.Name
			group = tbl.Columns[1-i].Name
		}
	}
	return member, group
}

// EntityTypes lists the entity tables in write order.
func EntityTypes() []EntityType {
	return []EntityType{EntityHost, EntityService, EntityHostGroup, EntityServiceGroup}
}

// MembershipTypes lists the junction relations.
func MembershipTypes() []EntityType {
	return []EntityType{EntityHostMembership, EntityServiceMembership}
}
