// Package inventory loads declarative YAML inventories and applies them to a
// store. Applying is idempotent: entities are matched by name, missing ones
// are created and existing ones updated in place.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"synopsis/pkg/domain"
)

// Seed is the document layout of an inventory file.
type Seed struct {
	Hosts         []HostSeed  `yaml:"hosts" validate:"dive"`
	HostGroups    []GroupSeed `yaml:"hostgroups" validate:"dive"`
	ServiceGroups []GroupSeed `yaml:"servicegroups" validate:"dive"`
}

// HostSeed declares a host and the services it runs.
type HostSeed struct {
	Name     string        `yaml:"name" validate:"required,max=64"`
	Endpoint string        `yaml:"endpoint" validate:"required,max=128"`
	Services []ServiceSeed `yaml:"services" validate:"dive"`
}

// ServiceSeed declares a service. An empty alias defaults to the name.
type ServiceSeed struct {
	Name  string `yaml:"name" validate:"required,max=64"`
	Alias string `yaml:"alias" validate:"max=128"`
}

// GroupSeed declares a group by the names of its members.
type GroupSeed struct {
	Name    string   `yaml:"name" validate:"required,max=64"`
	Members []string `yaml:"members" validate:"dive,required"`
}

// Summary counts what an Apply call changed.
type Summary struct {
	HostsCreated         int
	HostsUpdated         int
	ServicesCreated      int
	ServicesUpdated      int
	HostGroupsCreated    int
	ServiceGroupsCreated int
	MembershipsAdded     int
}

// ErrUnknownMember is returned when a group lists a name that is neither
// declared in the seed nor stored.
var ErrUnknownMember = errors.New("unknown group member")

var validate = validator.New()

// LoadFile reads and decodes the seed at path.
func LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	seed, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}

// Decode parses a seed document. Unknown keys are rejected.
func Decode(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks field constraints and that names are unique within the
// document.
func (s *Seed) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	hosts := make(map[string]struct{}, len(s.Hosts))
	services := make(map[string]struct{})
	for _, h := range s.Hosts {
		if _, dup := hosts[h.Name]; dup {
			return fmt.Errorf("invalid seed: host %q declared twice", h.Name)
		}
		hosts[h.Name] = struct{}{}
		for _, svc := range h.Services {
			if _, dup := services[svc.Name]; dup {
				return fmt.Errorf("invalid seed: service %q declared twice", svc.Name)
			}
			services[svc.Name] = struct{}{}
		}
	}
	for kind, groups := range map[string][]GroupSeed{"hostgroup": s.HostGroups, "servicegroup": s.ServiceGroups} {
		seen := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			if _, dup := seen[g.Name]; dup {
				return fmt.Errorf("invalid seed: %s %q declared twice", kind, g.Name)
			}
			seen[g.Name] = struct{}{}
		}
	}
	return nil
}

// Apply writes the seed to store in one unit of work. Group members may name
// entities from the seed or ones already stored; an unknown member aborts the
// whole apply.
func Apply(ctx context.Context, store domain.PersistentStore, seed *Seed) (Summary, domain.Result, error) {
	var sum Summary
	res, err := store.RunInTransaction(ctx, func(tx domain.UnitOfWork) error {
		sum = Summary{}
		a := applier{tx: tx, sum: &sum, hosts: map[string]*domain.Host{}, services: map[string]*domain.Service{}}
		for _, h := range seed.Hosts {
			if err := a.host(h); err != nil {
				return err
			}
		}
		for _, g := range seed.HostGroups {
			if err := a.hostGroup(g); err != nil {
				return err
			}
		}
		for _, g := range seed.ServiceGroups {
			if err := a.serviceGroup(g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, res, err
	}
	return sum, res, nil
}

// applier keeps the entities it touched by name since pending inserts are
// invisible to unit of work queries.
type applier struct {
	tx       domain.UnitOfWork
	sum      *Summary
	hosts    map[string]*domain.Host
	services map[string]*domain.Service
}

func (a *applier) host(seed HostSeed) error {
	h, found := a.tx.FindHost(domain.NameEquals(seed.Name))
	switch {
	case !found:
		h = &domain.Host{Name: seed.Name, Endpoint: seed.Endpoint}
		if err := a.tx.Add(h); err != nil {
			return err
		}
		a.sum.HostsCreated++
	case h.Endpoint != seed.Endpoint:
		h.Endpoint = seed.Endpoint
		a.sum.HostsUpdated++
	}
	a.hosts[seed.Name] = h

	for _, svcSeed := range seed.Services {
		alias := svcSeed.Alias
		if alias == "" {
			alias = svcSeed.Name
		}
		s, found := a.tx.FindService(domain.NameEquals(svcSeed.Name))
		if !found {
			s = &domain.Service{Name: svcSeed.Name, Alias: alias, Host: h}
			h.Services = append(h.Services, s)
			if err := a.tx.Add(s); err != nil {
				return err
			}
			a.sum.ServicesCreated++
		} else if s.Alias != alias || s.Host != h {
			s.Alias = alias
			s.Host = h
			a.sum.ServicesUpdated++
		}
		a.services[svcSeed.Name] = s
	}
	return nil
}

func (a *applier) lookupHost(name string) (*domain.Host, error) {
	if h, ok := a.hosts[name]; ok {
		return h, nil
	}
	if h, ok := a.tx.FindHost(domain.NameEquals(name)); ok {
		a.hosts[name] = h
		return h, nil
	}
	return nil, fmt.Errorf("host %q: %w", name, ErrUnknownMember)
}

func (a *applier) lookupService(name string) (*domain.Service, error) {
	if s, ok := a.services[name]; ok {
		return s, nil
	}
	if s, ok := a.tx.FindService(domain.NameEquals(name)); ok {
		a.services[name] = s
		return s, nil
	}
	return nil, fmt.Errorf("service %q: %w", name, ErrUnknownMember)
}

func (a *applier) hostGroup(seed GroupSeed) error {
	g, found := a.tx.FindHostGroup(domain.NameEquals(seed.Name))
	if !found {
		g = &domain.HostGroup{Name: seed.Name}
		if err := a.tx.Add(g); err != nil {
			return err
		}
		a.sum.HostGroupsCreated++
	}
	for _, name := range seed.Members {
		h, err := a.lookupHost(name)
		if err != nil {
			return fmt.Errorf("hostgroup %s: %w", seed.Name, err)
		}
		if containsHost(g.Hosts, h) {
			continue
		}
		g.Hosts = append(g.Hosts, h)
		a.sum.MembershipsAdded++
	}
	return nil
}

func (a *applier) serviceGroup(seed GroupSeed) error {
	g, found := a.tx.FindServiceGroup(domain.NameEquals(seed.Name))
	if !found {
		g = &domain.ServiceGroup{Name: seed.Name}
		if err := a.tx.Add(g); err != nil {
			return err
		}
		a.sum.ServiceGroupsCreated++
	}
	for _, name := range seed.Members {
		s, err := a.lookupService(name)
		if err != nil {
			return fmt.Errorf("servicegroup %s: %w", seed.Name, err)
		}
		if containsService(g.Services, s) {
			continue
		}
		g.Services = append(g.Services, s)
		a.sum.MembershipsAdded++
	}
	return nil
}

func containsHost(hosts []*domain.Host, h *domain.Host) bool {
	for _, x := range hosts {
		if x == h {
			return true
		}
	}
	return false
}

func containsService(services []*domain.Service, s *domain.Service) bool {
	for _, x := range services {
		if x == s {
			return true
		}
	}
	return false
}
