package core

import "synopsis/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Host               = domain.Host
	HostGroup          = domain.HostGroup
	ServiceGroup       = domain.ServiceGroup
	HostRecord         = domain.HostRecord
	ServiceRecord      = domain.ServiceRecord
	GroupRecord        = domain.GroupRecord
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RuleView           = domain.RuleView
	RulesEngine        = domain.RulesEngine
	UnitOfWork         = domain.UnitOfWork
	PersistentStore    = domain.PersistentStore
	RuleViolationError = domain.RuleViolationError
	ErrNotFound        = domain.ErrNotFound
)

const (
	EntityHost         = domain.EntityHost
	EntityService      = domain.EntityService
	EntityHostGroup    = domain.EntityHostGroup
	EntityServiceGroup = domain.EntityServiceGroup
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
