package domain

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to a table during a unit of work.
// Before and After hold Record values for entity tables and Link values for
// junction relations.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates a row was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a row was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Row returns the row the change leaves in place, or the removed row for deletes.
func (c Change) Row() any {
	if c.Action == ActionDelete {
		return c.Before
	}
	return c.After
}

// ChangeSet is the payload handed to durable backends when a unit of work
// commits: the ordered row changes plus the id sequences after the commit.
type ChangeSet struct {
	Changes   []Change
	Sequences map[EntityType]int64
}

// Empty reports whether the set carries no row changes.
func (s ChangeSet) Empty() bool {
	return len(s.Changes) == 0
}

// Count returns the number of changes per table and action.
func (s ChangeSet) Count(entity EntityType, action Action) int {
	n := 0
	for _, c := range s.Changes {
		if c.Entity == entity && c.Action == action {
			n++
		}
	}
	return n
}

// Violation reports a failed rule evaluation. Integrity rules also fill
// Constraint, Column and Value so callers can rebuild the storage error.
type Violation struct {
	Rule       string
	Severity   Severity
	Message    string
	Entity     EntityType
	EntityID   int64
	Constraint ConstraintKind
	Name       string
	Column     string
	Value      any
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Err converts blocking violations into the error a commit reports. The first
// blocking constraint violation becomes an *IntegrityError; blocking rule
// violations without a constraint yield a RuleViolationError.
func (r Result) Err() error {
	if !r.HasBlocking() {
		return nil
	}
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock && v.Constraint != "" {
			return &IntegrityError{
				Kind:       v.Constraint,
				Constraint: v.Name,
				Table:      string(v.Entity),
				Column:     v.Column,
				Value:      v.Value,
				Violations: append([]Violation(nil), r.Violations...),
			}
		}
	}
	return RuleViolationError{Result: r}
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
