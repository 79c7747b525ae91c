// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by CopperCore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records, audit targets,
// realtime channels, and persistence buckets.
const (
	// EntityFactory identifies a factory record, the unit of row scoping.
	EntityFactory EntityType = "factory"
	// EntityUser identifies a per-factory staff record.
	EntityUser EntityType = "user"
	// EntityWorkOrder identifies a production work order record.
	EntityWorkOrder EntityType = "work_order"
	// EntitySKU identifies a catalog item record.
	EntitySKU EntityType = "sku"
)

// FactoryStatus enumerates operational states of a factory.
type FactoryStatus string

// Canonical factory statuses. Only active factories accept new scoped records.
const (
	FactoryStatusActive    FactoryStatus = "active"
	FactoryStatusSuspended FactoryStatus = "suspended"
	FactoryStatusClosed    FactoryStatus = "closed"
)

// UserStatus enumerates account states of a staff record.
type UserStatus string

// Canonical user statuses.
const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// WorkOrderStatus enumerates the work order workflow states.
type WorkOrderStatus string

// Canonical work order statuses. Transitions are enforced by the status
// transition rule evaluated inside every mutation transaction.
const (
	WorkOrderStatusDraft           WorkOrderStatus = "draft"
	WorkOrderStatusPendingApproval WorkOrderStatus = "pending_approval"
	WorkOrderStatusApproved        WorkOrderStatus = "approved"
	WorkOrderStatusRejected        WorkOrderStatus = "rejected"
	WorkOrderStatusInProgress      WorkOrderStatus = "in_progress"
	WorkOrderStatusCompleted       WorkOrderStatus = "completed"
	WorkOrderStatusCancelled       WorkOrderStatus = "cancelled"
)

// SKUStatus enumerates catalog item states.
type SKUStatus string

// Canonical SKU statuses.
const (
	SKUStatusActive       SKUStatus = "active"
	SKUStatusDiscontinued SKUStatus = "discontinued"
)

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

// Base contains common fields for all scoped domain records. FactoryID is
// immutable after creation; Version starts at 1 and increases by exactly one
// per committed write, never reused or reset.
type Base struct {
	ID        string    `json:"id"`
	FactoryID string    `json:"factory_id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Factory represents an organizational unit that scopes every other record.
// A factory record is scoped to itself: FactoryID always equals ID.
type Factory struct {
	Base
	Code     string        `json:"code"`
	Name     string        `json:"name"`
	Timezone string        `json:"timezone"`
	Status   FactoryStatus `json:"status"`
}

// User represents a staff record assigned to a single factory.
type User struct {
	Base
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	Status      UserStatus `json:"status"`
}

// WorkOrder represents a production order against a catalog item.
type WorkOrder struct {
	Base
	SKUID    string          `json:"sku_id"`
	Quantity int             `json:"quantity"`
	Status   WorkOrderStatus `json:"status"`
	Priority int             `json:"priority"`
	Notes    *string         `json:"notes,omitempty"`
}

// SKU represents a copper product catalog item.
type SKU struct {
	Base
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CopperGrade string    `json:"copper_grade"`
	GaugeMM     float64   `json:"gauge_mm"`
	Status      SKUStatus `json:"status"`
}

// Change describes a mutation applied to an entity during a transaction.
// Before and After hold typed snapshots; the audit pipeline derives the
// hash-linked record from them at commit.
type Change struct {
	Entity      EntityType
	Action      Action
	EntityID    string
	FactoryID   string
	Version     int
	ChangedKeys []string
	Before      any
	After       any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the operations captured in the audit trail and on
// realtime events.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine. After a successful
// commit the store also attaches the committed changes so callers can publish
// notifications without re-deriving what happened.
type Result struct {
	Violations []Violation
	Changes    []Change
}

// Merge appends violations from another result. Changes are commit-level
// data set by the store, not merged across rule evaluations.
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

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
