package core

import (
	"context"
	"fmt"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewSKUReferenceRule blocks new work orders against discontinued catalog
// items. Orders created while the item was active keep running when it is
// discontinued later.
func NewSKUReferenceRule() domain.Rule {
	return skuReferenceRule{}
}

type skuReferenceRule struct{}

func (skuReferenceRule) Name() string { return "sku_reference" }

func (skuReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityWorkOrder || change.Action != domain.ActionCreate {
			continue
		}
		order, ok := change.After.(domain.WorkOrder)
		if !ok {
			continue
		}
		sku, ok := view.FindSKU(order.SKUID)
		if !ok {
			continue
		}
		if sku.Status == domain.SKUStatusDiscontinued {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "sku_reference",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("work order %s references discontinued sku %s (%s)", order.ID, sku.Code, sku.ID),
				Entity:   domain.EntityWorkOrder,
				EntityID: order.ID,
			})
		}
	}
	return res, nil
}
