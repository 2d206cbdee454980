package core

import "synopsis/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// Integrity constraints are enforced by the store and are not part of it.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewEndpointFormatRule())
	engine.Register(NewEmptyGroupRule())
	return engine
}
