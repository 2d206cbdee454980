package domain

import (
	"context"
	"fmt"
)

// RuleView provides read-only access to the tentative inventory state for
// rule evaluation.
type RuleView interface {
	ListHosts() []HostRecord
	ListServices() []ServiceRecord
	ListHostGroups() []GroupRecord
	ListServiceGroups() []GroupRecord
	FindHost(id int64) (HostRecord, bool)
	FindService(id int64) (ServiceRecord, bool)
	FindHostGroup(id int64) (GroupRecord, bool)
	FindServiceGroup(id int64) (GroupRecord, bool)
	HostMemberships() []Link
	ServiceMemberships() []Link
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs the rules in registration order and merges their results.
// The first rule error aborts evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}
