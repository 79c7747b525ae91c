package core

import (
	"context"
	"strings"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

func factoryRuleView() stubRuleView {
	return stubRuleView{factories: map[string]domain.Factory{
		"fac-active":    {Base: domain.Base{ID: "fac-active"}, Code: "LHR", Status: domain.FactoryStatusActive},
		"fac-suspended": {Base: domain.Base{ID: "fac-suspended"}, Code: "KHI", Status: domain.FactoryStatusSuspended},
		"fac-closed":    {Base: domain.Base{ID: "fac-closed"}, Code: "ISB", Status: domain.FactoryStatusClosed},
	}}
}

func scopedCreate(entity domain.EntityType, factoryID string) domain.Change {
	return domain.Change{
		Entity:    entity,
		Action:    domain.ActionCreate,
		EntityID:  "rec-1",
		FactoryID: factoryID,
	}
}

func TestFactoryActiveRuleBlocksInactiveFactories(t *testing.T) {
	rule := NewFactoryActiveRule()
	cases := []struct {
		name    string
		change  domain.Change
		message string
	}{
		{name: "sku into active", change: scopedCreate(domain.EntitySKU, "fac-active")},
		{name: "user into active", change: scopedCreate(domain.EntityUser, "fac-active")},
		{
			name:    "sku into suspended",
			change:  scopedCreate(domain.EntitySKU, "fac-suspended"),
			message: "factory KHI (fac-suspended) is suspended and accepts no new sku records",
		},
		{
			name:    "work order into closed",
			change:  scopedCreate(domain.EntityWorkOrder, "fac-closed"),
			message: "factory ISB (fac-closed) is closed and accepts no new work_order records",
		},
		{
			name:    "user into suspended",
			change:  scopedCreate(domain.EntityUser, "fac-suspended"),
			message: "accepts no new user records",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), factoryRuleView(), []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if tc.message == "" {
				if len(res.Violations) != 0 {
					t.Fatalf("expected clean result, got %+v", res.Violations)
				}
				return
			}
			if len(res.Violations) != 1 {
				t.Fatalf("expected one violation, got %+v", res.Violations)
			}
			v := res.Violations[0]
			if v.Rule != "factory_active" || v.Severity != domain.SeverityBlock {
				t.Fatalf("unexpected violation metadata: %+v", v)
			}
			if v.Entity != tc.change.Entity || v.EntityID != "rec-1" {
				t.Fatalf("violation targets wrong record: %+v", v)
			}
			if !strings.Contains(v.Message, tc.message) {
				t.Fatalf("message %q missing %q", v.Message, tc.message)
			}
		})
	}
}

func TestFactoryActiveRuleExemptsFactoryRecords(t *testing.T) {
	rule := NewFactoryActiveRule()
	change := domain.Change{
		Entity:    domain.EntityFactory,
		Action:    domain.ActionCreate,
		EntityID:  "fac-new",
		FactoryID: "fac-new",
	}
	res, err := rule.Evaluate(context.Background(), factoryRuleView(), []domain.Change{change})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("factory creation never needs a live parent factory: %+v", res.Violations)
	}
}

func TestFactoryActiveRuleLeavesExistingRecordsMutable(t *testing.T) {
	rule := NewFactoryActiveRule()
	update := domain.Change{
		Entity:    domain.EntityWorkOrder,
		Action:    domain.ActionUpdate,
		EntityID:  "wo-1",
		FactoryID: "fac-suspended",
	}
	res, err := rule.Evaluate(context.Background(), factoryRuleView(), []domain.Change{update})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("in-flight work must stay mutable under suspension: %+v", res.Violations)
	}
}

func TestFactoryActiveRuleSkipsUnknownFactory(t *testing.T) {
	rule := NewFactoryActiveRule()
	res, err := rule.Evaluate(context.Background(), stubRuleView{}, []domain.Change{scopedCreate(domain.EntitySKU, "fac-ghost")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unknown factory is the store's problem, not this rule's: %+v", res.Violations)
	}
}

func TestDefaultRulesEngineRegistersBuiltinPolicies(t *testing.T) {
	engine := NewDefaultRulesEngine()
	changes := []domain.Change{
		workOrderMove(domain.ActionApprove, domain.WorkOrderStatusDraft, domain.WorkOrderStatusApproved),
		scopedCreate(domain.EntitySKU, "fac-suspended"),
	}
	res, err := engine.Evaluate(context.Background(), factoryRuleView(), changes)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	rules := map[string]bool{}
	for _, v := range res.Violations {
		rules[v.Rule] = true
	}
	if !rules["work_order_transition"] || !rules["factory_active"] {
		t.Fatalf("expected both builtin rules to fire, got %+v", res.Violations)
	}
}
