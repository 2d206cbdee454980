package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

// Service exposes transactional inventory operations. Each call runs in its
// own unit of work; a failed call leaves the store unchanged.
type Service struct {
	store   PersistentStore
	log     logrus.FieldLogger
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger routes service logging through logger.
func WithLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithMetricsRecorder reports every operation to m.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer wraps every operation in a span from t.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		log:     logrus.StandardLogger(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "service")
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) run(ctx context.Context, op string, fn func(UnitOfWork) error) (Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := s.store.RunInTransaction(ctx, fn)
	span.End(err)
	elapsed := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	entry := s.log.WithFields(logrus.Fields{"operation": op, "duration": elapsed})
	if err != nil {
		entry.WithError(err).Warn("operation failed")
		return res, err
	}
	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			entry.WithField("rule", v.Rule).Warn(v.Message)
		}
	}
	entry.Debug("operation committed")
	return res, nil
}

// CreateHost persists a new host.
func (s *Service) CreateHost(ctx context.Context, name, endpoint string) (HostRecord, Result, error) {
	host := &Host{Name: name, Endpoint: endpoint}
	res, err := s.run(ctx, "create_host", func(tx UnitOfWork) error {
		return tx.Add(host)
	})
	if err != nil {
		return HostRecord{}, res, err
	}
	return host.Record(), res, nil
}

// UpdateHost mutates a host using the provided mutator. Collection edits
// made by the mutator are committed with the field changes.
func (s *Service) UpdateHost(ctx context.Context, id int64, mutator func(*Host) error) (HostRecord, Result, error) {
	var host *Host
	res, err := s.run(ctx, "update_host", func(tx UnitOfWork) error {
		var ok bool
		if host, ok = tx.HostByID(id); !ok {
			return ErrNotFound{Entity: EntityHost, ID: id}
		}
		return mutator(host)
	})
	if err != nil {
		return HostRecord{}, res, err
	}
	return host.Record(), res, nil
}

// DeleteHost removes a host. Its group memberships go with it and its
// services follow the store's host delete policy.
func (s *Service) DeleteHost(ctx context.Context, id int64) (Result, error) {
	return s.run(ctx, "delete_host", func(tx UnitOfWork) error {
		host, ok := tx.HostByID(id)
		if !ok {
			return ErrNotFound{Entity: EntityHost, ID: id}
		}
		return tx.Delete(host)
	})
}

// CreateService persists a new service, optionally attached to a host.
func (s *Service) CreateService(ctx context.Context, hostID *int64, name, alias string) (ServiceRecord, Result, error) {
	svc := &domain.Service{Name: name, Alias: alias}
	res, err := s.run(ctx, "create_service", func(tx UnitOfWork) error {
		if hostID != nil {
			host, ok := tx.HostByID(*hostID)
			if !ok {
				return ErrNotFound{Entity: EntityHost, ID: *hostID}
			}
			host.Services = append(host.Services, svc)
		}
		return tx.Add(svc)
	})
	if err != nil {
		return ServiceRecord{}, res, err
	}
	return svc.Record(), res, nil
}

// CreateHostGroup persists a new, empty host group.
func (s *Service) CreateHostGroup(ctx context.Context, name string) (GroupRecord, Result, error) {
	group := &HostGroup{Name: name}
	res, err := s.run(ctx, "create_host_group", func(tx UnitOfWork) error {
		return tx.Add(group)
	})
	if err != nil {
		return GroupRecord{}, res, err
	}
	return group.Record(), res, nil
}

// CreateServiceGroup persists a new, empty service group.
func (s *Service) CreateServiceGroup(ctx context.Context, name string) (GroupRecord, Result, error) {
	group := &ServiceGroup{Name: name}
	res, err := s.run(ctx, "create_service_group", func(tx UnitOfWork) error {
		return tx.Add(group)
	})
	if err != nil {
		return GroupRecord{}, res, err
	}
	return group.Record(), res, nil
}

// AddHostsToGroup links hosts to a host group. Hosts that are already
// members are left as they are.
func (s *Service) AddHostsToGroup(ctx context.Context, groupID int64, hostIDs ...int64) (Result, error) {
	return s.run(ctx, "add_hosts_to_group", func(tx UnitOfWork) error {
		group, ok := tx.HostGroupByID(groupID)
		if !ok {
			return ErrNotFound{Entity: EntityHostGroup, ID: groupID}
		}
		for _, id := range hostIDs {
			host, ok := tx.HostByID(id)
			if !ok {
				return ErrNotFound{Entity: EntityHost, ID: id}
			}
			group.Hosts = append(group.Hosts, host)
		}
		return nil
	})
}

// RemoveHostFromGroup unlinks one host from a host group.
func (s *Service) RemoveHostFromGroup(ctx context.Context, groupID, hostID int64) (Result, error) {
	return s.run(ctx, "remove_host_from_group", func(tx UnitOfWork) error {
		group, ok := tx.HostGroupByID(groupID)
		if !ok {
			return ErrNotFound{Entity: EntityHostGroup, ID: groupID}
		}
		kept := make([]*Host, 0, len(group.Hosts))
		found := false
		for _, h := range group.Hosts {
			if h != nil && h.ID == hostID {
				found = true
				continue
			}
			kept = append(kept, h)
		}
		if !found {
			return fmt.Errorf("host %d is not a member of host group %s: %w", hostID, group.Name, ErrNotFound{Entity: EntityHost, ID: hostID})
		}
		group.Hosts = kept
		return nil
	})
}

// AddServicesToGroup links services to a service group.
func (s *Service) AddServicesToGroup(ctx context.Context, groupID int64, serviceIDs ...int64) (Result, error) {
	return s.run(ctx, "add_services_to_group", func(tx UnitOfWork) error {
		group, ok := tx.ServiceGroupByID(groupID)
		if !ok {
			return ErrNotFound{Entity: EntityServiceGroup, ID: groupID}
		}
		for _, id := range serviceIDs {
			svc, ok := tx.ServiceByID(id)
			if !ok {
				return ErrNotFound{Entity: EntityService, ID: id}
			}
			group.Services = append(group.Services, svc)
		}
		return nil
	})
}

// HostGroupsOf returns the groups a host belongs to, ordered by id.
func (s *Service) HostGroupsOf(ctx context.Context, hostID int64) ([]GroupRecord, error) {
	var out []GroupRecord
	err := s.store.View(ctx, func(view RuleView) error {
		if _, ok := view.FindHost(hostID); !ok {
			return ErrNotFound{Entity: EntityHost, ID: hostID}
		}
		for _, l := range view.HostMemberships() {
			if l.Left != hostID {
				continue
			}
			if g, ok := view.FindHostGroup(l.Right); ok {
				out = append(out, g)
			}
		}
		return nil
	})
	return out, err
}

// MembersOf returns the hosts of a host group, ordered by id.
func (s *Service) MembersOf(ctx context.Context, groupID int64) ([]HostRecord, error) {
	var out []HostRecord
	err := s.store.View(ctx, func(view RuleView) error {
		if _, ok := view.FindHostGroup(groupID); !ok {
			return ErrNotFound{Entity: EntityHostGroup, ID: groupID}
		}
		for _, l := range view.HostMemberships() {
			if l.Right != groupID {
				continue
			}
			if h, ok := view.FindHost(l.Left); ok {
				out = append(out, h)
			}
		}
		return nil
	})
	return out, err
}

// HostSummary is a host row with the names of its services and groups.
type HostSummary struct {
	HostRecord
	Services []string `json:"services"`
	Groups   []string `json:"groups"`
}

// GroupSummary is a group row with the names of its members.
type GroupSummary struct {
	GroupRecord
	Members []string `json:"members"`
}

// ListHosts summarizes the committed hosts matching pred, ordered by id.
func (s *Service) ListHosts(ctx context.Context, pred domain.Predicate) ([]HostSummary, error) {
	if pred == nil {
		pred = domain.All()
	}
	var out []HostSummary
	err := s.store.View(ctx, func(view RuleView) error {
		services := make(map[int64][]string)
		for _, svc := range view.ListServices() {
			if svc.HostID != nil {
				services[*svc.HostID] = append(services[*svc.HostID], svc.Name)
			}
		}
		groups := make(map[int64][]string)
		for _, l := range view.HostMemberships() {
			if g, ok := view.FindHostGroup(l.Right); ok {
				groups[l.Left] = append(groups[l.Left], g.Name)
			}
		}
		for _, h := range view.ListHosts() {
			if pred(h) {
				out = append(out, HostSummary{HostRecord: h, Services: services[h.ID], Groups: groups[h.ID]})
			}
		}
		return nil
	})
	return out, err
}

// ListHostGroups summarizes the committed host groups, ordered by id.
func (s *Service) ListHostGroups(ctx context.Context) ([]GroupSummary, error) {
	var out []GroupSummary
	err := s.store.View(ctx, func(view RuleView) error {
		members := make(map[int64][]string)
		for _, l := range view.HostMemberships() {
			if h, ok := view.FindHost(l.Left); ok {
				members[l.Right] = append(members[l.Right], h.Name)
			}
		}
		for _, g := range view.ListHostGroups() {
			out = append(out, GroupSummary{GroupRecord: g, Members: members[g.ID]})
		}
		return nil
	})
	return out, err
}
