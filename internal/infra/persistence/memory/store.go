// Package memory provides the in-memory implementation of the core
// persistence store. It is the reference engine for the mutation pipeline:
// every write runs as a transactional unit that checks the caller's expected
// version, applies the mutation, bumps the version, and seals the audit
// record, committing all four steps together or not at all. Durable backends
// embed this store and persist through its commit hook.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i2kashif/CopperCore-sub002/internal/audit"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Factory aliases domain.Factory for in-memory persistence operations.
	Factory = domain.Factory
	// User aliases domain.User.
	User = domain.User
	// WorkOrder aliases domain.WorkOrder.
	WorkOrder = domain.WorkOrder
	// SKU aliases domain.SKU.
	SKU = domain.SKU
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

func mustApply(label string, err error) {
	if err != nil {
		panic(fmt.Errorf("memory store %s: %w", label, err))
	}
}

type memoryState struct {
	factories  map[string]Factory
	users      map[string]User
	workOrders map[string]WorkOrder
	skus       map[string]SKU
}

// Snapshot captures a point-in-time clone of the entity state.
type Snapshot struct {
	Factories  map[string]Factory   `json:"factories"`
	Users      map[string]User      `json:"users"`
	WorkOrders map[string]WorkOrder `json:"work_orders"`
	SKUs       map[string]SKU       `json:"skus"`
}

// AuditSnapshot carries the audit chains and checkpoints for durable
// persistence. Records appear in commit order.
type AuditSnapshot struct {
	Records     []domain.AuditRecord `json:"records"`
	Checkpoints []domain.Checkpoint  `json:"checkpoints"`
}

// Commit is handed to the commit hook before the in-memory state swap. It
// carries everything a durable backend must write for one committed
// transaction: the full post-commit snapshot plus the audit records sealed at
// commit, in append order.
type Commit struct {
	Snapshot Snapshot
	Records  []domain.AuditRecord
}

func newMemoryState() memoryState {
	return memoryState{
		factories:  make(map[string]Factory),
		users:      make(map[string]User),
		workOrders: make(map[string]WorkOrder),
		skus:       make(map[string]SKU),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Factories:  make(map[string]Factory, len(state.factories)),
		Users:      make(map[string]User, len(state.users)),
		WorkOrders: make(map[string]WorkOrder, len(state.workOrders)),
		SKUs:       make(map[string]SKU, len(state.skus)),
	}
	for k, v := range state.factories {
		s.Factories[k] = cloneFactory(v)
	}
	for k, v := range state.users {
		s.Users[k] = cloneUser(v)
	}
	for k, v := range state.workOrders {
		s.WorkOrders[k] = cloneWorkOrder(v)
	}
	for k, v := range state.skus {
		s.SKUs[k] = cloneSKU(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Factories {
		state.factories[k] = cloneFactory(v)
	}
	for k, v := range s.Users {
		state.users[k] = cloneUser(v)
	}
	for k, v := range s.WorkOrders {
		state.workOrders[k] = cloneWorkOrder(v)
	}
	for k, v := range s.SKUs {
		state.skus[k] = cloneSKU(v)
	}
	return state
}

// migrateSnapshot normalizes imported snapshots: nil maps are initialized,
// versions are floored at 1, and records whose owning factory or referenced
// SKU vanished are dropped rather than resurrected as orphans.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Factories == nil {
		snapshot.Factories = map[string]Factory{}
	}
	if snapshot.Users == nil {
		snapshot.Users = map[string]User{}
	}
	if snapshot.WorkOrders == nil {
		snapshot.WorkOrders = map[string]WorkOrder{}
	}
	if snapshot.SKUs == nil {
		snapshot.SKUs = map[string]SKU{}
	}

	factoryExists := func(id string) bool {
		_, ok := snapshot.Factories[id]
		return ok
	}
	skuExists := func(id string) bool {
		_, ok := snapshot.SKUs[id]
		return ok
	}

	for id, factory := range snapshot.Factories {
		factory.FactoryID = factory.ID
		if factory.Version < 1 {
			factory.Version = 1
		}
		if factory.Status == "" {
			factory.Status = domain.FactoryStatusActive
		}
		snapshot.Factories[id] = factory
	}

	for id, user := range snapshot.Users {
		if user.FactoryID == "" || !factoryExists(user.FactoryID) {
			delete(snapshot.Users, id)
			continue
		}
		if user.Version < 1 {
			user.Version = 1
		}
		if user.Status == "" {
			user.Status = domain.UserStatusActive
		}
		snapshot.Users[id] = user
	}

	for id, sku := range snapshot.SKUs {
		if sku.FactoryID == "" || !factoryExists(sku.FactoryID) {
			delete(snapshot.SKUs, id)
			continue
		}
		if sku.Version < 1 {
			sku.Version = 1
		}
		if sku.Status == "" {
			sku.Status = domain.SKUStatusActive
		}
		snapshot.SKUs[id] = sku
	}

	for id, order := range snapshot.WorkOrders {
		if order.FactoryID == "" || !factoryExists(order.FactoryID) {
			delete(snapshot.WorkOrders, id)
			continue
		}
		if order.SKUID == "" || !skuExists(order.SKUID) {
			delete(snapshot.WorkOrders, id)
			continue
		}
		if order.Version < 1 {
			order.Version = 1
		}
		if order.Status == "" {
			order.Status = domain.WorkOrderStatusDraft
		}
		snapshot.WorkOrders[id] = order
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.factories {
		cloned.factories[k] = cloneFactory(v)
	}
	for k, v := range s.users {
		cloned.users[k] = cloneUser(v)
	}
	for k, v := range s.workOrders {
		cloned.workOrders[k] = cloneWorkOrder(v)
	}
	for k, v := range s.skus {
		cloned.skus[k] = cloneSKU(v)
	}
	return cloned
}

func cloneFactory(f Factory) Factory { return f }
func cloneUser(u User) User          { return u }

func cloneWorkOrder(w WorkOrder) WorkOrder {
	cp := w
	if w.Notes != nil {
		notes := *w.Notes
		cp.Notes = &notes
	}
	return cp
}

func cloneSKU(s SKU) SKU { return s }

// Store provides an in-memory transactional store for the core domain. The
// audit log and chain heads live beside the entity state, not inside it:
// transactions clone and swap entity state, while audit records are sealed
// and appended only at commit so an aborted transaction leaves no partial
// chain links behind.
type Store struct {
	mu          sync.RWMutex
	state       memoryState
	auditLog    []domain.AuditRecord
	chainHeads  map[string]string
	checkpoints []domain.Checkpoint
	engine      *RulesEngine
	nowFn       func() time.Time
	commitHook  func(ctx context.Context, commit Commit) error
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:      newMemoryState(),
		chainHeads: make(map[string]string),
		engine:     engine,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// SetCommitHook installs fn between rule evaluation and the in-memory state
// swap. A hook error aborts the commit, so a durable backend that fails to
// persist leaves neither entity state nor audit chains advanced.
func (s *Store) SetCommitHook(fn func(ctx context.Context, commit Commit) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// ExportState clones the current entity state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the entity state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// ExportAudit clones the audit log and checkpoints for external persistence.
func (s *Store) ExportAudit() AuditSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AuditSnapshot{
		Records:     append([]domain.AuditRecord(nil), s.auditLog...),
		Checkpoints: append([]domain.Checkpoint(nil), s.checkpoints...),
	}
}

// ImportAudit replaces the audit log and checkpoints, rebuilding chain heads
// from the records in order. Used by durable backends to rehydrate on open;
// application code never writes audit state through any other path.
func (s *Store) ImportAudit(snapshot AuditSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append([]domain.AuditRecord(nil), snapshot.Records...)
	s.chainHeads = make(map[string]string)
	for _, rec := range s.auditLog {
		s.chainHeads[rec.ChainKey()] = rec.Hash
	}
	s.checkpoints = append([]domain.Checkpoint(nil), snapshot.Checkpoints...)
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Entity timestamps and audit record
// timestamps come from this clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListFactories returns all factories within the transaction snapshot.
func (v transactionView) ListFactories() []Factory {
	out := make([]Factory, 0, len(v.state.factories))
	for _, f := range v.state.factories {
		out = append(out, cloneFactory(f))
	}
	return out
}

// ListUsers returns all users within the transaction snapshot.
func (v transactionView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, cloneUser(u))
	}
	return out
}

// ListWorkOrders returns all work orders within the transaction snapshot.
func (v transactionView) ListWorkOrders() []WorkOrder {
	out := make([]WorkOrder, 0, len(v.state.workOrders))
	for _, w := range v.state.workOrders {
		out = append(out, cloneWorkOrder(w))
	}
	return out
}

// ListSKUs returns all SKUs within the transaction snapshot.
func (v transactionView) ListSKUs() []SKU {
	out := make([]SKU, 0, len(v.state.skus))
	for _, s := range v.state.skus {
		out = append(out, cloneSKU(s))
	}
	return out
}

// FindFactory retrieves a factory by ID from the snapshot.
func (v transactionView) FindFactory(id string) (Factory, bool) {
	f, ok := v.state.factories[id]
	if !ok {
		return Factory{}, false
	}
	return cloneFactory(f), true
}

// FindUser retrieves a user by ID from the snapshot.
func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// FindWorkOrder retrieves a work order by ID from the snapshot.
func (v transactionView) FindWorkOrder(id string) (WorkOrder, bool) {
	w, ok := v.state.workOrders[id]
	if !ok {
		return WorkOrder{}, false
	}
	return cloneWorkOrder(w), true
}

// FindSKU retrieves a SKU by ID from the snapshot.
func (v transactionView) FindSKU(id string) (SKU, bool) {
	s, ok := v.state.skus[id]
	if !ok {
		return SKU{}, false
	}
	return cloneSKU(s), true
}

// RunInTransaction executes fn within a transactional copy of the store
// state. After fn returns, registered rules evaluate the accumulated
// changes; blocking violations abort the commit. Audit records are sealed
// from the changes only once rules pass, each linked to its chain head, and
// the commit hook persists the outcome before the in-memory swap. No step
// can be observed in isolation: a failure anywhere leaves state, versions,
// and chains exactly as they were.
func (s *Store) RunInTransaction(ctx context.Context, session domain.Session, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	records, heads, err := s.sealChanges(tx, session)
	if err != nil {
		return Result{}, err
	}

	if s.commitHook != nil && len(records) > 0 {
		commit := Commit{Snapshot: snapshotFromMemoryState(tx.state), Records: records}
		if err := s.commitHook(ctx, commit); err != nil {
			return Result{}, fmt.Errorf("persist commit: %w", err)
		}
	}

	s.state = tx.state
	s.auditLog = append(s.auditLog, records...)
	for key, hash := range heads {
		s.chainHeads[key] = hash
	}
	result.Changes = append([]Change(nil), tx.changes...)
	return result, nil
}

// sealChanges turns the transaction's change list into hash-linked audit
// records. Multiple changes to one entity within a transaction chain onto
// each other in order.
func (s *Store) sealChanges(tx *transaction, session domain.Session) ([]domain.AuditRecord, map[string]string, error) {
	if len(tx.changes) == 0 {
		return nil, nil, nil
	}
	heads := make(map[string]string)
	records := make([]domain.AuditRecord, 0, len(tx.changes))
	for _, change := range tx.changes {
		key := domain.ChainKey(change.Entity, change.EntityID)
		prev, pending := heads[key]
		if !pending {
			prev = s.chainHeads[key]
		}
		rec, err := audit.NewRecord(audit.Input{
			Target:    change.Entity,
			TargetID:  change.EntityID,
			FactoryID: change.FactoryID,
			Action:    change.Action,
			Before:    change.Before,
			After:     change.After,
			Actor:     session.Actor.Subject,
			IP:        session.Actor.IP,
			UserAgent: session.Actor.UserAgent,
			TS:        tx.now,
			PrevHash:  prev,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("seal audit record for %s: %w", key, err)
		}
		records = append(records, rec)
		heads[key] = rec.Hash
	}
	return records, heads, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindFactory exposes factory lookup within the transaction scope.
func (tx *transaction) FindFactory(id string) (Factory, bool) {
	f, ok := tx.state.factories[id]
	if !ok {
		return Factory{}, false
	}
	return cloneFactory(f), true
}

// FindUser exposes user lookup within the transaction scope.
func (tx *transaction) FindUser(id string) (User, bool) {
	u, ok := tx.state.users[id]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// FindWorkOrder exposes work order lookup within the transaction scope.
func (tx *transaction) FindWorkOrder(id string) (WorkOrder, bool) {
	w, ok := tx.state.workOrders[id]
	if !ok {
		return WorkOrder{}, false
	}
	return cloneWorkOrder(w), true
}

// FindSKU exposes SKU lookup within the transaction scope.
func (tx *transaction) FindSKU(id string) (SKU, bool) {
	s, ok := tx.state.skus[id]
	if !ok {
		return SKU{}, false
	}
	return cloneSKU(s), true
}

// CreateFactory stores a new factory at version 1. A factory is scoped to
// itself, so its factory id always equals its id.
func (tx *transaction) CreateFactory(f Factory) (Factory, error) {
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if _, exists := tx.state.factories[f.ID]; exists {
		return Factory{}, fmt.Errorf("factory %q already exists", f.ID)
	}
	f.FactoryID = f.ID
	if f.Status == "" {
		f.Status = domain.FactoryStatusActive
	}
	if f.Timezone == "" {
		f.Timezone = "UTC"
	}
	if err := validateFactory(f); err != nil {
		return Factory{}, err
	}
	for _, existing := range tx.state.factories {
		if existing.Code == f.Code {
			return Factory{}, fmt.Errorf("factory code %q already in use", f.Code)
		}
	}
	f.Version = 1
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.factories[f.ID] = cloneFactory(f)
	tx.recordChange(Change{Entity: domain.EntityFactory, Action: domain.ActionCreate, EntityID: f.ID, FactoryID: f.FactoryID, Version: f.Version, After: cloneFactory(f)})
	return cloneFactory(f), nil
}

// UpdateFactory mutates a factory under an optimistic version check.
func (tx *transaction) UpdateFactory(id string, expectedVersion int, mutator func(*Factory) error) (Factory, error) {
	current, ok := tx.state.factories[id]
	if !ok {
		return Factory{}, domain.ErrNotFound{Entity: domain.EntityFactory, ID: id}
	}
	if current.Version != expectedVersion {
		return Factory{}, domain.OptimisticLockConflict{Entity: domain.EntityFactory, ID: id, Current: current.Version, Attempted: expectedVersion}
	}
	before := cloneFactory(current)
	if err := mutator(&current); err != nil {
		return Factory{}, err
	}
	current.ID = id
	current.FactoryID = id
	current.CreatedAt = before.CreatedAt
	if err := validateFactory(current); err != nil {
		return Factory{}, err
	}
	for _, existing := range tx.state.factories {
		if existing.ID != id && existing.Code == current.Code {
			return Factory{}, fmt.Errorf("factory code %q already in use", current.Code)
		}
	}
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.factories[id] = cloneFactory(current)
	tx.recordChange(Change{Entity: domain.EntityFactory, Action: domain.ActionUpdate, EntityID: id, FactoryID: id, Version: current.Version, ChangedKeys: changedKeys(before, current), Before: before, After: cloneFactory(current)})
	return cloneFactory(current), nil
}

// CreateUser stores a new staff record at version 1.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = tx.store.newID()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	if u.FactoryID == "" {
		return User{}, domain.ValidationError{Entity: domain.EntityUser, Field: "factory_id", Reason: "required"}
	}
	if _, ok := tx.state.factories[u.FactoryID]; !ok {
		return User{}, fmt.Errorf("factory %q not found", u.FactoryID)
	}
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	if err := validateUser(u); err != nil {
		return User{}, err
	}
	for _, existing := range tx.state.users {
		if existing.FactoryID == u.FactoryID && existing.Email == u.Email {
			return User{}, fmt.Errorf("user email %q already in use at factory %q", u.Email, u.FactoryID)
		}
	}
	u.Version = 1
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = cloneUser(u)
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, EntityID: u.ID, FactoryID: u.FactoryID, Version: u.Version, After: cloneUser(u)})
	return cloneUser(u), nil
}

// UpdateUser mutates a user under an optimistic version check. The factory
// assignment is immutable after creation.
func (tx *transaction) UpdateUser(id string, expectedVersion int, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[id]
	if !ok {
		return User{}, domain.ErrNotFound{Entity: domain.EntityUser, ID: id}
	}
	if current.Version != expectedVersion {
		return User{}, domain.OptimisticLockConflict{Entity: domain.EntityUser, ID: id, Current: current.Version, Attempted: expectedVersion}
	}
	before := cloneUser(current)
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	if current.FactoryID != before.FactoryID {
		return User{}, domain.ValidationError{Entity: domain.EntityUser, Field: "factory_id", Reason: "immutable after creation"}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if err := validateUser(current); err != nil {
		return User{}, err
	}
	for _, existing := range tx.state.users {
		if existing.ID != id && existing.FactoryID == current.FactoryID && existing.Email == current.Email {
			return User{}, fmt.Errorf("user email %q already in use at factory %q", current.Email, current.FactoryID)
		}
	}
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.users[id] = cloneUser(current)
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, EntityID: id, FactoryID: current.FactoryID, Version: current.Version, ChangedKeys: changedKeys(before, current), Before: before, After: cloneUser(current)})
	return cloneUser(current), nil
}

// CreateWorkOrder stores a new work order at version 1. Orders start in
// draft; later states are reached only through transitions.
func (tx *transaction) CreateWorkOrder(w WorkOrder) (WorkOrder, error) {
	if w.ID == "" {
		w.ID = tx.store.newID()
	}
	if _, exists := tx.state.workOrders[w.ID]; exists {
		return WorkOrder{}, fmt.Errorf("work order %q already exists", w.ID)
	}
	if w.FactoryID == "" {
		return WorkOrder{}, domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "factory_id", Reason: "required"}
	}
	if _, ok := tx.state.factories[w.FactoryID]; !ok {
		return WorkOrder{}, fmt.Errorf("factory %q not found", w.FactoryID)
	}
	if w.Status == "" {
		w.Status = domain.WorkOrderStatusDraft
	}
	if w.Status != domain.WorkOrderStatusDraft {
		return WorkOrder{}, domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "status", Reason: "new orders start in draft"}
	}
	if err := tx.validateWorkOrder(w); err != nil {
		return WorkOrder{}, err
	}
	w.Version = 1
	w.CreatedAt = tx.now
	w.UpdatedAt = tx.now
	tx.state.workOrders[w.ID] = cloneWorkOrder(w)
	tx.recordChange(Change{Entity: domain.EntityWorkOrder, Action: domain.ActionCreate, EntityID: w.ID, FactoryID: w.FactoryID, Version: w.Version, After: cloneWorkOrder(w)})
	return cloneWorkOrder(w), nil
}

// UpdateWorkOrder mutates a work order's fields under an optimistic version
// check. Status moves are rejected here; they go through TransitionWorkOrder
// so approvals and rejections carry their own audit action.
func (tx *transaction) UpdateWorkOrder(id string, expectedVersion int, mutator func(*WorkOrder) error) (WorkOrder, error) {
	return tx.applyWorkOrder(id, expectedVersion, domain.ActionUpdate, func(w *WorkOrder) error {
		status := w.Status
		if err := mutator(w); err != nil {
			return err
		}
		if w.Status != status {
			return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "status", Reason: "status changes require a transition"}
		}
		return nil
	})
}

// TransitionWorkOrder moves a work order through its lifecycle under an
// optimistic version check. The action is recorded on the change so approve
// and reject decisions are distinguishable in the audit trail and on
// realtime events; legality of the resulting status move is enforced by the
// registered transition rule at commit.
func (tx *transaction) TransitionWorkOrder(id string, expectedVersion int, action domain.Action, mutator func(*WorkOrder) error) (WorkOrder, error) {
	switch action {
	case domain.ActionUpdate, domain.ActionApprove, domain.ActionReject:
	default:
		return WorkOrder{}, fmt.Errorf("unsupported transition action %q", action)
	}
	return tx.applyWorkOrder(id, expectedVersion, action, mutator)
}

func (tx *transaction) applyWorkOrder(id string, expectedVersion int, action domain.Action, mutator func(*WorkOrder) error) (WorkOrder, error) {
	current, ok := tx.state.workOrders[id]
	if !ok {
		return WorkOrder{}, domain.ErrNotFound{Entity: domain.EntityWorkOrder, ID: id}
	}
	if current.Version != expectedVersion {
		return WorkOrder{}, domain.OptimisticLockConflict{Entity: domain.EntityWorkOrder, ID: id, Current: current.Version, Attempted: expectedVersion}
	}
	before := cloneWorkOrder(current)
	if err := mutator(&current); err != nil {
		return WorkOrder{}, err
	}
	if current.FactoryID != before.FactoryID {
		return WorkOrder{}, domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "factory_id", Reason: "immutable after creation"}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if err := tx.validateWorkOrder(current); err != nil {
		return WorkOrder{}, err
	}
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.workOrders[id] = cloneWorkOrder(current)
	tx.recordChange(Change{Entity: domain.EntityWorkOrder, Action: action, EntityID: id, FactoryID: current.FactoryID, Version: current.Version, ChangedKeys: changedKeys(before, current), Before: before, After: cloneWorkOrder(current)})
	return cloneWorkOrder(current), nil
}

// CreateSKU stores a new catalog item at version 1.
func (tx *transaction) CreateSKU(s SKU) (SKU, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.skus[s.ID]; exists {
		return SKU{}, fmt.Errorf("sku %q already exists", s.ID)
	}
	if s.FactoryID == "" {
		return SKU{}, domain.ValidationError{Entity: domain.EntitySKU, Field: "factory_id", Reason: "required"}
	}
	if _, ok := tx.state.factories[s.FactoryID]; !ok {
		return SKU{}, fmt.Errorf("factory %q not found", s.FactoryID)
	}
	if s.Status == "" {
		s.Status = domain.SKUStatusActive
	}
	if err := validateSKU(s); err != nil {
		return SKU{}, err
	}
	for _, existing := range tx.state.skus {
		if existing.FactoryID == s.FactoryID && existing.Code == s.Code {
			return SKU{}, fmt.Errorf("sku code %q already in use at factory %q", s.Code, s.FactoryID)
		}
	}
	s.Version = 1
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.skus[s.ID] = cloneSKU(s)
	tx.recordChange(Change{Entity: domain.EntitySKU, Action: domain.ActionCreate, EntityID: s.ID, FactoryID: s.FactoryID, Version: s.Version, After: cloneSKU(s)})
	return cloneSKU(s), nil
}

// UpdateSKU mutates a catalog item under an optimistic version check.
func (tx *transaction) UpdateSKU(id string, expectedVersion int, mutator func(*SKU) error) (SKU, error) {
	current, ok := tx.state.skus[id]
	if !ok {
		return SKU{}, domain.ErrNotFound{Entity: domain.EntitySKU, ID: id}
	}
	if current.Version != expectedVersion {
		return SKU{}, domain.OptimisticLockConflict{Entity: domain.EntitySKU, ID: id, Current: current.Version, Attempted: expectedVersion}
	}
	before := cloneSKU(current)
	if err := mutator(&current); err != nil {
		return SKU{}, err
	}
	if current.FactoryID != before.FactoryID {
		return SKU{}, domain.ValidationError{Entity: domain.EntitySKU, Field: "factory_id", Reason: "immutable after creation"}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if err := validateSKU(current); err != nil {
		return SKU{}, err
	}
	for _, existing := range tx.state.skus {
		if existing.ID != id && existing.FactoryID == current.FactoryID && existing.Code == current.Code {
			return SKU{}, fmt.Errorf("sku code %q already in use at factory %q", current.Code, current.FactoryID)
		}
	}
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.skus[id] = cloneSKU(current)
	tx.recordChange(Change{Entity: domain.EntitySKU, Action: domain.ActionUpdate, EntityID: id, FactoryID: current.FactoryID, Version: current.Version, ChangedKeys: changedKeys(before, current), Before: before, After: cloneSKU(current)})
	return cloneSKU(current), nil
}

// DeleteSKU removes a catalog item under an optimistic version check. Items
// still referenced by work orders cannot be removed; the audit chain gains a
// final tombstone record instead of losing history.
func (tx *transaction) DeleteSKU(id string, expectedVersion int) error {
	current, ok := tx.state.skus[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySKU, ID: id}
	}
	if current.Version != expectedVersion {
		return domain.OptimisticLockConflict{Entity: domain.EntitySKU, ID: id, Current: current.Version, Attempted: expectedVersion}
	}
	for _, order := range tx.state.workOrders {
		if order.SKUID == id {
			return fmt.Errorf("sku %q still referenced by work order %q", id, order.ID)
		}
	}
	delete(tx.state.skus, id)
	tx.recordChange(Change{Entity: domain.EntitySKU, Action: domain.ActionDelete, EntityID: id, FactoryID: current.FactoryID, Version: current.Version, Before: cloneSKU(current)})
	return nil
}

func validateFactory(f Factory) error {
	if f.Code == "" {
		return domain.ValidationError{Entity: domain.EntityFactory, Field: "code", Reason: "required"}
	}
	if f.Name == "" {
		return domain.ValidationError{Entity: domain.EntityFactory, Field: "name", Reason: "required"}
	}
	switch f.Status {
	case domain.FactoryStatusActive, domain.FactoryStatusSuspended, domain.FactoryStatusClosed:
	default:
		return domain.ValidationError{Entity: domain.EntityFactory, Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return nil
}

func validateUser(u User) error {
	if u.Email == "" {
		return domain.ValidationError{Entity: domain.EntityUser, Field: "email", Reason: "required"}
	}
	switch u.Role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleOperator, domain.RoleViewer:
	default:
		return domain.ValidationError{Entity: domain.EntityUser, Field: "role", Reason: fmt.Sprintf("unknown role %q", u.Role)}
	}
	switch u.Status {
	case domain.UserStatusActive, domain.UserStatusDisabled:
	default:
		return domain.ValidationError{Entity: domain.EntityUser, Field: "status", Reason: fmt.Sprintf("unknown status %q", u.Status)}
	}
	return nil
}

func (tx *transaction) validateWorkOrder(w WorkOrder) error {
	if w.SKUID == "" {
		return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "sku_id", Reason: "required"}
	}
	sku, ok := tx.state.skus[w.SKUID]
	if !ok {
		return fmt.Errorf("sku %q not found", w.SKUID)
	}
	if sku.FactoryID != w.FactoryID {
		return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "sku_id", Reason: "sku belongs to another factory"}
	}
	if w.Quantity <= 0 {
		return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "quantity", Reason: "must be positive"}
	}
	if w.Priority < 0 {
		return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "priority", Reason: "must not be negative"}
	}
	switch w.Status {
	case domain.WorkOrderStatusDraft, domain.WorkOrderStatusPendingApproval, domain.WorkOrderStatusApproved,
		domain.WorkOrderStatusRejected, domain.WorkOrderStatusInProgress, domain.WorkOrderStatusCompleted,
		domain.WorkOrderStatusCancelled:
	default:
		return domain.ValidationError{Entity: domain.EntityWorkOrder, Field: "status", Reason: fmt.Sprintf("unknown status %q", w.Status)}
	}
	return nil
}

func validateSKU(s SKU) error {
	if s.Code == "" {
		return domain.ValidationError{Entity: domain.EntitySKU, Field: "code", Reason: "required"}
	}
	if s.CopperGrade == "" {
		return domain.ValidationError{Entity: domain.EntitySKU, Field: "copper_grade", Reason: "required"}
	}
	if s.GaugeMM <= 0 {
		return domain.ValidationError{Entity: domain.EntitySKU, Field: "gauge_mm", Reason: "must be positive"}
	}
	switch s.Status {
	case domain.SKUStatusActive, domain.SKUStatusDiscontinued:
	default:
		return domain.ValidationError{Entity: domain.EntitySKU, Field: "status", Reason: fmt.Sprintf("unknown status %q", s.Status)}
	}
	return nil
}

// changedKeys diffs the top-level JSON fields of two entity images. The
// result is sorted so audit payloads and realtime events stay deterministic.
func changedKeys(before, after any) []string {
	beforeFields := topLevelJSON(before)
	afterFields := topLevelJSON(after)
	var keys []string
	for key, afterValue := range afterFields {
		beforeValue, ok := beforeFields[key]
		if !ok || !bytes.Equal(beforeValue, afterValue) {
			keys = append(keys, key)
		}
	}
	for key := range beforeFields {
		if _, ok := afterFields[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func topLevelJSON(v any) map[string]json.RawMessage {
	data, err := json.Marshal(v)
	mustApply("encode change image", err)
	fields := map[string]json.RawMessage{}
	mustApply("decode change image", json.Unmarshal(data, &fields))
	return fields
}

// GetFactory retrieves a factory by ID.
func (s *Store) GetFactory(id string) (Factory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.factories[id]
	if !ok {
		return Factory{}, false
	}
	return cloneFactory(f), true
}

// ListFactories returns all factories ordered by ID.
func (s *Store) ListFactories() []Factory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Factory, 0, len(s.state.factories))
	for _, f := range s.state.factories {
		out = append(out, cloneFactory(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.state.users))
	for _, u := range s.state.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetWorkOrder retrieves a work order by ID.
func (s *Store) GetWorkOrder(id string) (WorkOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.state.workOrders[id]
	if !ok {
		return WorkOrder{}, false
	}
	return cloneWorkOrder(w), true
}

// ListWorkOrders returns all work orders ordered by ID.
func (s *Store) ListWorkOrders() []WorkOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkOrder, 0, len(s.state.workOrders))
	for _, w := range s.state.workOrders {
		out = append(out, cloneWorkOrder(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSKU retrieves a SKU by ID.
func (s *Store) GetSKU(id string) (SKU, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sku, ok := s.state.skus[id]
	if !ok {
		return SKU{}, false
	}
	return cloneSKU(sku), true
}

// ListSKUs returns all SKUs ordered by ID.
func (s *Store) ListSKUs() []SKU {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SKU, 0, len(s.state.skus))
	for _, sku := range s.state.skus {
		out = append(out, cloneSKU(sku))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditHistory returns the audit chain for one entity in commit order.
func (s *Store) AuditHistory(target domain.EntityType, targetID string) []domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := domain.ChainKey(target, targetID)
	var out []domain.AuditRecord
	for _, rec := range s.auditLog {
		if rec.ChainKey() == key {
			out = append(out, rec)
		}
	}
	return out
}

// AuditHeads returns the current head record of every chain, ordered by
// chain key.
func (s *Store) AuditHeads() []domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return headsAsOf(s.auditLog, time.Time{})
}

// AuditHeadsAsOf returns the head record of every chain considering only
// records committed strictly before cutoff. Checkpoint runs and checkpoint
// verification use the same cutoff so both digest the same record set.
func (s *Store) AuditHeadsAsOf(cutoff time.Time) []domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return headsAsOf(s.auditLog, cutoff)
}

// headsAsOf folds the append-ordered log into the newest record per chain.
// A zero cutoff means unbounded.
func headsAsOf(log []domain.AuditRecord, cutoff time.Time) []domain.AuditRecord {
	byChain := make(map[string]domain.AuditRecord)
	for _, rec := range log {
		if !cutoff.IsZero() && !rec.TS.Before(cutoff) {
			continue
		}
		byChain[rec.ChainKey()] = rec
	}
	keys := make([]string, 0, len(byChain))
	for key := range byChain {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]domain.AuditRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, byChain[key])
	}
	return out
}

// AppendCheckpoint persists a daily digest. One checkpoint per day; a rerun
// for an already sealed day is an error, not an overwrite.
func (s *Store) AppendCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkpoints {
		if existing.Day == cp.Day {
			return fmt.Errorf("checkpoint for %s already exists", cp.Day)
		}
	}
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

// ListCheckpoints returns all checkpoints ordered by day.
func (s *Store) ListCheckpoints() []domain.Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Checkpoint(nil), s.checkpoints...)
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// LatestCheckpoint returns the checkpoint covering the most recent day.
func (s *Store) LatestCheckpoint() (domain.Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return domain.Checkpoint{}, false
	}
	latest := s.checkpoints[0]
	for _, cp := range s.checkpoints[1:] {
		if cp.Day > latest.Day {
			latest = cp
		}
	}
	return latest, true
}
