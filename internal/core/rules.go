package core

import "github.com/i2kashif/CopperCore-sub002/pkg/domain"

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewWorkOrderTransitionRule())
	engine.Register(NewSKUReferenceRule())
	engine.Register(NewFactoryActiveRule())
	return engine
}
