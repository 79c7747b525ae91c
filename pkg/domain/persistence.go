package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Update and delete operations take the
// caller's expected version; a mismatch fails the whole transaction with
// OptimisticLockConflict, and the version check, mutation, version increment,
// and audit append commit as one unit of work or not at all.
type Transaction interface {
	Snapshot() TransactionView
	CreateFactory(Factory) (Factory, error)
	UpdateFactory(id string, expectedVersion int, mutator func(*Factory) error) (Factory, error)
	CreateUser(User) (User, error)
	UpdateUser(id string, expectedVersion int, mutator func(*User) error) (User, error)
	CreateWorkOrder(WorkOrder) (WorkOrder, error)
	UpdateWorkOrder(id string, expectedVersion int, mutator func(*WorkOrder) error) (WorkOrder, error)
	TransitionWorkOrder(id string, expectedVersion int, action Action, mutator func(*WorkOrder) error) (WorkOrder, error)
	CreateSKU(SKU) (SKU, error)
	UpdateSKU(id string, expectedVersion int, mutator func(*SKU) error) (SKU, error)
	DeleteSKU(id string, expectedVersion int) error
	FindFactory(id string) (Factory, bool)
	FindUser(id string) (User, bool)
	FindWorkOrder(id string) (WorkOrder, bool)
	FindSKU(id string) (SKU, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListFactories() []Factory
	ListUsers() []User
	ListWorkOrders() []WorkOrder
	ListSKUs() []SKU
	FindFactory(id string) (Factory, bool)
	FindUser(id string) (User, bool)
	FindWorkOrder(id string) (WorkOrder, bool)
	FindSKU(id string) (SKU, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers. The session
// passed to RunInTransaction supplies the attribution stamped onto the audit
// records the engine appends at commit.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, session Session, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetFactory(id string) (Factory, bool)
	ListFactories() []Factory
	GetUser(id string) (User, bool)
	ListUsers() []User
	GetWorkOrder(id string) (WorkOrder, bool)
	ListWorkOrders() []WorkOrder
	GetSKU(id string) (SKU, bool)
	ListSKUs() []SKU
	AuditHistory(target EntityType, targetID string) []AuditRecord
	AuditHeads() []AuditRecord
	AuditHeadsAsOf(cutoff time.Time) []AuditRecord
	AppendCheckpoint(ctx context.Context, cp Checkpoint) error
	ListCheckpoints() []Checkpoint
	LatestCheckpoint() (Checkpoint, bool)
}
