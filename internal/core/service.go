// Package core wires the integrity pipeline together: every mutation runs
// authorization, an optimistic version check, the field patch, rule
// evaluation, and the hash-chained audit append as one transactional unit,
// then hands the committed changes to the realtime notifier. Reads filter to
// the caller's factory scope; rows outside it are indistinguishable from
// rows that do not exist.
package core

import (
	"context"
	"time"

	"github.com/i2kashif/CopperCore-sub002/internal/authz"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Service exposes the transactional operations of the integrity core.
type Service struct {
	store    domain.PersistentStore
	policy   *authz.Policy
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	ops      OperationRecorder
	reporter IntegrityReporter
	notifier ChangeNotifier
	archiver CheckpointArchiver
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithPolicy replaces the default authorization policy.
func WithPolicy(policy *authz.Policy) Option {
	return func(s *Service) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder installs a metrics sink for operation outcomes.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer installs a tracer wrapping each operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithOperationRecorder installs a sink for per-operation bookkeeping
// entries.
func WithOperationRecorder(rec OperationRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.ops = rec
		}
	}
}

// WithIntegrityReporter installs the channel that receives verification
// outcomes.
func WithIntegrityReporter(rep IntegrityReporter) Option {
	return func(s *Service) {
		if rep != nil {
			s.reporter = rep
		}
	}
}

// WithChangeNotifier installs the realtime publisher for committed changes.
func WithChangeNotifier(notifier ChangeNotifier) Option {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithCheckpointArchiver installs a blob archiver for sealed checkpoints.
func WithCheckpointArchiver(archiver CheckpointArchiver) Option {
	return func(s *Service) {
		s.archiver = archiver
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policy:   authz.NewPolicy(),
		clock:    systemClock{},
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		ops:      noopOperationRecorder{},
		reporter: noopIntegrityReporter{},
		notifier: noopChangeNotifier{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine gets the default rule set.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Policy returns the active authorization policy.
func (s *Service) Policy() *authz.Policy {
	return s.policy
}

// run wraps one operation with tracing, timing, metrics, logging, and
// operation bookkeeping. fn returns the id of the affected entity when one
// is known.
func (s *Service) run(ctx context.Context, operation string, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := s.clock.Now()
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(started)

	s.metrics.Observe(ctx, operation, err == nil, duration)
	span.End(err)
	if err != nil {
		s.logger.Error(operation+" failed", "entity_id", entityID, "error", err)
		s.recordOperation(ctx, operation, entityID, OperationStatusError, duration)
		return err
	}
	s.logger.Debug(operation+" completed", "entity_id", entityID)
	s.recordOperationSuccess(ctx, operation, entityID, duration)
	return nil
}

// commit executes fn inside one store transaction and publishes the
// committed changes on success.
func (s *Service) commit(ctx context.Context, session domain.Session, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.store.RunInTransaction(ctx, session, fn)
	if err != nil {
		return res, err
	}
	if len(res.Changes) > 0 {
		s.notifier.PublishChanges(ctx, res.Changes)
	}
	return res, nil
}

type operationMetadata struct {
	Entity domain.EntityType
	Action domain.Action
}

// operationCatalog maps entity operation names to the metadata recorded on
// their bookkeeping entries. Operations outside the catalog, such as
// verification passes, still trace and meter but produce no entry.
var operationCatalog = map[string]operationMetadata{
	"create_factory":      {Entity: domain.EntityFactory, Action: domain.ActionCreate},
	"update_factory":      {Entity: domain.EntityFactory, Action: domain.ActionUpdate},
	"create_user":         {Entity: domain.EntityUser, Action: domain.ActionCreate},
	"update_user":         {Entity: domain.EntityUser, Action: domain.ActionUpdate},
	"create_work_order":   {Entity: domain.EntityWorkOrder, Action: domain.ActionCreate},
	"update_work_order":   {Entity: domain.EntityWorkOrder, Action: domain.ActionUpdate},
	"submit_work_order":   {Entity: domain.EntityWorkOrder, Action: domain.ActionUpdate},
	"approve_work_order":  {Entity: domain.EntityWorkOrder, Action: domain.ActionApprove},
	"reject_work_order":   {Entity: domain.EntityWorkOrder, Action: domain.ActionReject},
	"start_work_order":    {Entity: domain.EntityWorkOrder, Action: domain.ActionUpdate},
	"complete_work_order": {Entity: domain.EntityWorkOrder, Action: domain.ActionUpdate},
	"cancel_work_order":   {Entity: domain.EntityWorkOrder, Action: domain.ActionUpdate},
	"create_sku":          {Entity: domain.EntitySKU, Action: domain.ActionCreate},
	"update_sku":          {Entity: domain.EntitySKU, Action: domain.ActionUpdate},
	"delete_sku":          {Entity: domain.EntitySKU, Action: domain.ActionDelete},
}

func (s *Service) recordOperationSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	s.recordOperation(ctx, operation, entityID, OperationStatusSuccess, duration)
}

func (s *Service) recordOperation(ctx context.Context, operation, entityID string, status OperationStatus, duration time.Duration) {
	info, ok := operationCatalog[operation]
	if !ok {
		return
	}
	s.ops.Record(ctx, OperationEntry{
		Operation: operation,
		Entity:    info.Entity,
		Action:    info.Action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

// maskNotFound hides out-of-scope rows: both a missing row and a row in a
// factory outside the caller's scope read as absent.
func (s *Service) maskNotFound(principal domain.Principal, entity domain.EntityType, id, factoryID string, ok bool) error {
	if !ok || !s.policy.InScope(principal, factoryID) {
		return domain.ErrNotFound{Entity: entity, ID: id}
	}
	return nil
}

// CreateFactory persists a new factory. Factories are scoped to themselves,
// so only globally scoped principals can create them.
func (s *Service) CreateFactory(ctx context.Context, session domain.Session, factory domain.Factory) (domain.Factory, domain.Result, error) {
	var created domain.Factory
	var res domain.Result
	err := s.run(ctx, "create_factory", func(ctx context.Context) (string, error) {
		if err := s.policy.Authorize(session.Principal, domain.EntityFactory, factory.ID, authz.OpCreate); err != nil {
			return "", err
		}
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			var cerr error
			created, cerr = tx.CreateFactory(factory)
			return cerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return created.ID, nil
	})
	return created, res, err
}

// UpdateFactory applies a field patch to a factory under an optimistic
// version check.
func (s *Service) UpdateFactory(ctx context.Context, session domain.Session, id string, expectedVersion int, patch map[string]any) (domain.Factory, domain.Result, error) {
	var updated domain.Factory
	var res domain.Result
	err := s.run(ctx, "update_factory", func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindFactory(id)
			if err := s.maskNotFound(session.Principal, domain.EntityFactory, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntityFactory, current.FactoryID, authz.OpUpdate); err != nil {
				return err
			}
			var uerr error
			updated, uerr = tx.UpdateFactory(id, expectedVersion, func(f *domain.Factory) error {
				return applyPatch(domain.EntityFactory, f, patch)
			})
			return uerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	})
	return updated, res, err
}

// CreateUser persists a new staff record inside the target factory.
func (s *Service) CreateUser(ctx context.Context, session domain.Session, user domain.User) (domain.User, domain.Result, error) {
	var created domain.User
	var res domain.Result
	err := s.run(ctx, "create_user", func(ctx context.Context) (string, error) {
		if err := s.policy.Authorize(session.Principal, domain.EntityUser, user.FactoryID, authz.OpCreate); err != nil {
			return "", err
		}
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			var cerr error
			created, cerr = tx.CreateUser(user)
			return cerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return created.ID, nil
	})
	return created, res, err
}

// UpdateUser applies a field patch to a staff record under an optimistic
// version check.
func (s *Service) UpdateUser(ctx context.Context, session domain.Session, id string, expectedVersion int, patch map[string]any) (domain.User, domain.Result, error) {
	var updated domain.User
	var res domain.Result
	err := s.run(ctx, "update_user", func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindUser(id)
			if err := s.maskNotFound(session.Principal, domain.EntityUser, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntityUser, current.FactoryID, authz.OpUpdate); err != nil {
				return err
			}
			var uerr error
			updated, uerr = tx.UpdateUser(id, expectedVersion, func(u *domain.User) error {
				return applyPatch(domain.EntityUser, u, patch)
			})
			return uerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	})
	return updated, res, err
}

// CreateWorkOrder persists a new production order in draft status.
func (s *Service) CreateWorkOrder(ctx context.Context, session domain.Session, order domain.WorkOrder) (domain.WorkOrder, domain.Result, error) {
	var created domain.WorkOrder
	var res domain.Result
	err := s.run(ctx, "create_work_order", func(ctx context.Context) (string, error) {
		if err := s.policy.Authorize(session.Principal, domain.EntityWorkOrder, order.FactoryID, authz.OpCreate); err != nil {
			return "", err
		}
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			var cerr error
			created, cerr = tx.CreateWorkOrder(order)
			return cerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return created.ID, nil
	})
	return created, res, err
}

// UpdateWorkOrder applies a field patch to a work order under an optimistic
// version check. Status changes are rejected here; they go through the
// transition operations.
func (s *Service) UpdateWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int, patch map[string]any) (domain.WorkOrder, domain.Result, error) {
	var updated domain.WorkOrder
	var res domain.Result
	err := s.run(ctx, "update_work_order", func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindWorkOrder(id)
			if err := s.maskNotFound(session.Principal, domain.EntityWorkOrder, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntityWorkOrder, current.FactoryID, authz.OpUpdate); err != nil {
				return err
			}
			var uerr error
			updated, uerr = tx.UpdateWorkOrder(id, expectedVersion, func(w *domain.WorkOrder) error {
				return applyPatch(domain.EntityWorkOrder, w, patch)
			})
			return uerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	})
	return updated, res, err
}

// SubmitWorkOrder moves a draft order to pending approval.
func (s *Service) SubmitWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "submit_work_order", id, expectedVersion, authz.OpUpdate, domain.ActionUpdate, domain.WorkOrderStatusPendingApproval)
}

// ApproveWorkOrder approves a pending order. Operators cannot approve.
func (s *Service) ApproveWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "approve_work_order", id, expectedVersion, authz.OpApprove, domain.ActionApprove, domain.WorkOrderStatusApproved)
}

// RejectWorkOrder rejects a pending order. Operators cannot reject.
func (s *Service) RejectWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "reject_work_order", id, expectedVersion, authz.OpReject, domain.ActionReject, domain.WorkOrderStatusRejected)
}

// StartWorkOrder moves an approved order into production.
func (s *Service) StartWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "start_work_order", id, expectedVersion, authz.OpUpdate, domain.ActionUpdate, domain.WorkOrderStatusInProgress)
}

// CompleteWorkOrder marks an in-progress order completed.
func (s *Service) CompleteWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "complete_work_order", id, expectedVersion, authz.OpUpdate, domain.ActionUpdate, domain.WorkOrderStatusCompleted)
}

// CancelWorkOrder cancels a draft or approved order.
func (s *Service) CancelWorkOrder(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.WorkOrder, domain.Result, error) {
	return s.transitionWorkOrder(ctx, session, "cancel_work_order", id, expectedVersion, authz.OpUpdate, domain.ActionUpdate, domain.WorkOrderStatusCancelled)
}

func (s *Service) transitionWorkOrder(ctx context.Context, session domain.Session, operation, id string, expectedVersion int, op authz.Operation, action domain.Action, status domain.WorkOrderStatus) (domain.WorkOrder, domain.Result, error) {
	var updated domain.WorkOrder
	var res domain.Result
	err := s.run(ctx, operation, func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindWorkOrder(id)
			if err := s.maskNotFound(session.Principal, domain.EntityWorkOrder, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntityWorkOrder, current.FactoryID, op); err != nil {
				return err
			}
			var terr error
			updated, terr = tx.TransitionWorkOrder(id, expectedVersion, action, func(w *domain.WorkOrder) error {
				w.Status = status
				return nil
			})
			return terr
		})
		res = r
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	})
	return updated, res, err
}

// CreateSKU persists a new catalog item inside the target factory.
func (s *Service) CreateSKU(ctx context.Context, session domain.Session, sku domain.SKU) (domain.SKU, domain.Result, error) {
	var created domain.SKU
	var res domain.Result
	err := s.run(ctx, "create_sku", func(ctx context.Context) (string, error) {
		if err := s.policy.Authorize(session.Principal, domain.EntitySKU, sku.FactoryID, authz.OpCreate); err != nil {
			return "", err
		}
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			var cerr error
			created, cerr = tx.CreateSKU(sku)
			return cerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return created.ID, nil
	})
	return created, res, err
}

// UpdateSKU applies a field patch to a catalog item under an optimistic
// version check.
func (s *Service) UpdateSKU(ctx context.Context, session domain.Session, id string, expectedVersion int, patch map[string]any) (domain.SKU, domain.Result, error) {
	var updated domain.SKU
	var res domain.Result
	err := s.run(ctx, "update_sku", func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindSKU(id)
			if err := s.maskNotFound(session.Principal, domain.EntitySKU, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntitySKU, current.FactoryID, authz.OpUpdate); err != nil {
				return err
			}
			var uerr error
			updated, uerr = tx.UpdateSKU(id, expectedVersion, func(k *domain.SKU) error {
				return applyPatch(domain.EntitySKU, k, patch)
			})
			return uerr
		})
		res = r
		if err != nil {
			return "", err
		}
		return updated.ID, nil
	})
	return updated, res, err
}

// DeleteSKU removes a catalog item under an optimistic version check. SKUs
// are the only entity type on the hard-delete allow-list; the chain gains a
// tombstone record.
func (s *Service) DeleteSKU(ctx context.Context, session domain.Session, id string, expectedVersion int) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, "delete_sku", func(ctx context.Context) (string, error) {
		r, err := s.commit(ctx, session, func(tx domain.Transaction) error {
			current, ok := tx.FindSKU(id)
			if err := s.maskNotFound(session.Principal, domain.EntitySKU, id, current.FactoryID, ok); err != nil {
				return err
			}
			if err := s.policy.Authorize(session.Principal, domain.EntitySKU, current.FactoryID, authz.OpDelete); err != nil {
				return err
			}
			return tx.DeleteSKU(id, expectedVersion)
		})
		res = r
		if err != nil {
			return "", err
		}
		return id, nil
	})
	return res, err
}

// GetFactory returns a factory visible to the session.
func (s *Service) GetFactory(_ context.Context, session domain.Session, id string) (domain.Factory, error) {
	factory, ok := s.store.GetFactory(id)
	if err := s.maskNotFound(session.Principal, domain.EntityFactory, id, factory.FactoryID, ok); err != nil {
		return domain.Factory{}, err
	}
	return factory, nil
}

// ListFactories returns the factories inside the session's scope.
func (s *Service) ListFactories(_ context.Context, session domain.Session) []domain.Factory {
	return filterInScope(s.policy, session.Principal, s.store.ListFactories(), func(f domain.Factory) string { return f.FactoryID })
}

// GetUser returns a staff record visible to the session.
func (s *Service) GetUser(_ context.Context, session domain.Session, id string) (domain.User, error) {
	user, ok := s.store.GetUser(id)
	if err := s.maskNotFound(session.Principal, domain.EntityUser, id, user.FactoryID, ok); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ListUsers returns the staff records inside the session's scope.
func (s *Service) ListUsers(_ context.Context, session domain.Session) []domain.User {
	return filterInScope(s.policy, session.Principal, s.store.ListUsers(), func(u domain.User) string { return u.FactoryID })
}

// GetWorkOrder returns a work order visible to the session.
func (s *Service) GetWorkOrder(_ context.Context, session domain.Session, id string) (domain.WorkOrder, error) {
	order, ok := s.store.GetWorkOrder(id)
	if err := s.maskNotFound(session.Principal, domain.EntityWorkOrder, id, order.FactoryID, ok); err != nil {
		return domain.WorkOrder{}, err
	}
	return order, nil
}

// ListWorkOrders returns the work orders inside the session's scope.
func (s *Service) ListWorkOrders(_ context.Context, session domain.Session) []domain.WorkOrder {
	return filterInScope(s.policy, session.Principal, s.store.ListWorkOrders(), func(w domain.WorkOrder) string { return w.FactoryID })
}

// GetSKU returns a catalog item visible to the session.
func (s *Service) GetSKU(_ context.Context, session domain.Session, id string) (domain.SKU, error) {
	sku, ok := s.store.GetSKU(id)
	if err := s.maskNotFound(session.Principal, domain.EntitySKU, id, sku.FactoryID, ok); err != nil {
		return domain.SKU{}, err
	}
	return sku, nil
}

// ListSKUs returns the catalog items inside the session's scope.
func (s *Service) ListSKUs(_ context.Context, session domain.Session) []domain.SKU {
	return filterInScope(s.policy, session.Principal, s.store.ListSKUs(), func(k domain.SKU) string { return k.FactoryID })
}

func filterInScope[T any](policy *authz.Policy, principal domain.Principal, items []T, factoryID func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if policy.InScope(principal, factoryID(item)) {
			out = append(out, item)
		}
	}
	return out
}
