package core

import (
	"context"
	"fmt"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewWorkOrderTransitionRule blocks illegal work order status moves. Approve
// and reject decisions are only legal from pending approval; completed,
// rejected, and cancelled are terminal.
func NewWorkOrderTransitionRule() domain.Rule {
	return workOrderTransitionRule{}
}

type workOrderTransitionRule struct{}

var workOrderTransitions = map[domain.WorkOrderStatus][]domain.WorkOrderStatus{
	domain.WorkOrderStatusDraft:           {domain.WorkOrderStatusPendingApproval, domain.WorkOrderStatusCancelled},
	domain.WorkOrderStatusPendingApproval: {domain.WorkOrderStatusApproved, domain.WorkOrderStatusRejected},
	domain.WorkOrderStatusApproved:        {domain.WorkOrderStatusInProgress, domain.WorkOrderStatusCancelled},
	domain.WorkOrderStatusInProgress:      {domain.WorkOrderStatusCompleted},
}

func (workOrderTransitionRule) Name() string { return "work_order_transition" }

func (workOrderTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityWorkOrder {
			continue
		}
		before, ok := change.Before.(domain.WorkOrder)
		if !ok {
			continue
		}
		after, ok := change.After.(domain.WorkOrder)
		if !ok {
			continue
		}

		switch change.Action {
		case domain.ActionApprove:
			if before.Status != domain.WorkOrderStatusPendingApproval || after.Status != domain.WorkOrderStatusApproved {
				res.Violations = append(res.Violations, transitionViolation(after.ID,
					fmt.Sprintf("work order %s cannot be approved from status %s", after.ID, before.Status)))
			}
		case domain.ActionReject:
			if before.Status != domain.WorkOrderStatusPendingApproval || after.Status != domain.WorkOrderStatusRejected {
				res.Violations = append(res.Violations, transitionViolation(after.ID,
					fmt.Sprintf("work order %s cannot be rejected from status %s", after.ID, before.Status)))
			}
		case domain.ActionUpdate:
			if before.Status == after.Status {
				continue
			}
			if !transitionAllowed(before.Status, after.Status) {
				res.Violations = append(res.Violations, transitionViolation(after.ID,
					fmt.Sprintf("work order %s cannot move from %s to %s", after.ID, before.Status, after.Status)))
			}
		}
	}
	return res, nil
}

func transitionAllowed(from, to domain.WorkOrderStatus) bool {
	for _, next := range workOrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "work_order_transition",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityWorkOrder,
		EntityID: id,
	}
}
