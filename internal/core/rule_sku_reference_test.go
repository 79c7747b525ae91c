package core

import (
	"context"
	"strings"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// stubRuleView backs view-dependent rules with fixed lookup tables.
type stubRuleView struct {
	factories map[string]domain.Factory
	skus      map[string]domain.SKU
}

func (v stubRuleView) ListFactories() []domain.Factory    { return nil }
func (v stubRuleView) ListUsers() []domain.User           { return nil }
func (v stubRuleView) ListWorkOrders() []domain.WorkOrder { return nil }
func (v stubRuleView) ListSKUs() []domain.SKU             { return nil }

func (v stubRuleView) FindFactory(id string) (domain.Factory, bool) {
	factory, ok := v.factories[id]
	return factory, ok
}

func (v stubRuleView) FindUser(string) (domain.User, bool) { return domain.User{}, false }

func (v stubRuleView) FindWorkOrder(string) (domain.WorkOrder, bool) {
	return domain.WorkOrder{}, false
}

func (v stubRuleView) FindSKU(id string) (domain.SKU, bool) {
	sku, ok := v.skus[id]
	return sku, ok
}

func newOrderCreate(orderID, skuID string) domain.Change {
	return domain.Change{
		Entity:    domain.EntityWorkOrder,
		Action:    domain.ActionCreate,
		EntityID:  orderID,
		FactoryID: "fac-1",
		After:     domain.WorkOrder{Base: domain.Base{ID: orderID, FactoryID: "fac-1", Version: 1}, SKUID: skuID, Quantity: 25, Status: domain.WorkOrderStatusDraft},
	}
}

func TestSKUReferenceRuleBlocksDiscontinued(t *testing.T) {
	view := stubRuleView{skus: map[string]domain.SKU{
		"sku-dead": {Base: domain.Base{ID: "sku-dead", FactoryID: "fac-1"}, Code: "CU-BAR-12", Status: domain.SKUStatusDiscontinued},
	}}
	rule := NewSKUReferenceRule()

	res, err := rule.Evaluate(context.Background(), view, []domain.Change{newOrderCreate("wo-9", "sku-dead")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected one violation, got %+v", res.Violations)
	}
	v := res.Violations[0]
	if v.Rule != "sku_reference" || v.Severity != domain.SeverityBlock {
		t.Fatalf("unexpected violation metadata: %+v", v)
	}
	if v.Entity != domain.EntityWorkOrder || v.EntityID != "wo-9" {
		t.Fatalf("violation targets wrong record: %+v", v)
	}
	if !strings.Contains(v.Message, "discontinued sku CU-BAR-12 (sku-dead)") {
		t.Fatalf("message missing sku identity: %q", v.Message)
	}
}

func TestSKUReferenceRuleAllowsActiveSKU(t *testing.T) {
	view := stubRuleView{skus: map[string]domain.SKU{
		"sku-live": {Base: domain.Base{ID: "sku-live", FactoryID: "fac-1"}, Code: "CU-ROD-8", Status: domain.SKUStatusActive},
	}}
	rule := NewSKUReferenceRule()

	res, err := rule.Evaluate(context.Background(), view, []domain.Change{newOrderCreate("wo-1", "sku-live")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("active sku should pass, got %+v", res.Violations)
	}
}

func TestSKUReferenceRuleLeavesRunningOrdersAlone(t *testing.T) {
	view := stubRuleView{skus: map[string]domain.SKU{
		"sku-dead": {Base: domain.Base{ID: "sku-dead", FactoryID: "fac-1"}, Code: "CU-BAR-12", Status: domain.SKUStatusDiscontinued},
	}}
	rule := NewSKUReferenceRule()

	update := domain.Change{
		Entity:    domain.EntityWorkOrder,
		Action:    domain.ActionUpdate,
		EntityID:  "wo-2",
		FactoryID: "fac-1",
		Before:    domain.WorkOrder{Base: domain.Base{ID: "wo-2", FactoryID: "fac-1"}, SKUID: "sku-dead", Status: domain.WorkOrderStatusInProgress},
		After:     domain.WorkOrder{Base: domain.Base{ID: "wo-2", FactoryID: "fac-1"}, SKUID: "sku-dead", Status: domain.WorkOrderStatusInProgress, Quantity: 80},
	}
	res, err := rule.Evaluate(context.Background(), view, []domain.Change{update})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("updates to existing orders should pass, got %+v", res.Violations)
	}
}

func TestSKUReferenceRuleSkipsUnknownSKU(t *testing.T) {
	rule := NewSKUReferenceRule()
	res, err := rule.Evaluate(context.Background(), stubRuleView{}, []domain.Change{newOrderCreate("wo-3", "sku-ghost")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("missing sku is the store's problem, not this rule's: %+v", res.Violations)
	}
}
