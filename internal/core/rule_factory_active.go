package core

import (
	"context"
	"fmt"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewFactoryActiveRule blocks creating scoped records inside a factory that
// is suspended or closed. Existing records stay mutable so in-flight work can
// be wound down.
func NewFactoryActiveRule() domain.Rule {
	return factoryActiveRule{}
}

type factoryActiveRule struct{}

func (factoryActiveRule) Name() string { return "factory_active" }

func (factoryActiveRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionCreate || change.Entity == domain.EntityFactory {
			continue
		}
		factory, ok := view.FindFactory(change.FactoryID)
		if !ok {
			continue
		}
		if factory.Status != domain.FactoryStatusActive {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "factory_active",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("factory %s (%s) is %s and accepts no new %s records", factory.Code, factory.ID, factory.Status, change.Entity),
				Entity:   change.Entity,
				EntityID: change.EntityID,
			})
		}
	}
	return res, nil
}
