// Package authz decides allow or deny for factory-scoped operations. Scoping
// is enforced here as an explicit predicate at the data-access boundary
// rather than inside any particular storage engine, so the same rules hold
// for the in-memory, SQLite, and Postgres stores.
package authz

import (
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Operation classifies what a caller is attempting against an entity type.
type Operation string

const (
	OpRead    Operation = "read"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpApprove Operation = "approve"
	OpReject  Operation = "reject"
)

// Policy evaluates principals against factory scope, role capability, and the
// hard-delete allow-list. The global flag on a principal is the single
// cross-cutting scope bypass; no per-entity code duplicates it.
type Policy struct {
	deletable map[domain.EntityType]bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithDeletable opts entity types into hard deletes. Types not listed stay
// delete-denied for every caller, including global admins.
func WithDeletable(types ...domain.EntityType) Option {
	return func(p *Policy) {
		p.deletable = make(map[domain.EntityType]bool, len(types))
		for _, t := range types {
			p.deletable[t] = true
		}
	}
}

// NewPolicy builds the default policy. Only SKUs may be hard-deleted unless
// WithDeletable overrides the allow-list.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		deletable: map[domain.EntityType]bool{
			domain.EntitySKU: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InScope reports whether the principal's factory scope covers factoryID.
// Global principals cover every factory; an empty scope covers none.
func (p *Policy) InScope(principal domain.Principal, factoryID string) bool {
	if principal.Global {
		return true
	}
	for _, id := range principal.FactoryIDs {
		if id == factoryID {
			return true
		}
	}
	return false
}

// Deletable reports whether the entity type opted into hard deletes.
func (p *Policy) Deletable(entity domain.EntityType) bool {
	return p.deletable[entity]
}

// Authorize decides allow or deny for one operation against a row in the
// given factory. Writes validate the target factory the same way reads
// validate the source, so a write cannot smuggle a row into an unauthorized
// factory. The returned denial carries only the attempted operation; callers
// mask denied point reads as not-found so existence outside scope never
// leaks.
func (p *Policy) Authorize(principal domain.Principal, entity domain.EntityType, factoryID string, op Operation) error {
	if !p.InScope(principal, factoryID) {
		return deny(entity, op)
	}
	if op == OpDelete && !p.deletable[entity] {
		return deny(entity, op)
	}
	if !roleAllows(principal.Role, entity, op) {
		return deny(entity, op)
	}
	return nil
}

func deny(entity domain.EntityType, op Operation) error {
	return domain.AuthorizationViolation{Op: string(op) + " " + string(entity)}
}

// roleAllows is the role capability table. Reads are open to every role;
// factory scope alone decides visibility.
func roleAllows(role domain.Role, entity domain.EntityType, op Operation) bool {
	if op == OpRead {
		return true
	}
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleManager:
		if entity == domain.EntityFactory {
			// Factories are created and retired by admins; managers only
			// maintain the ones they run.
			return op == OpUpdate
		}
		switch op {
		case OpCreate, OpUpdate, OpApprove, OpReject, OpDelete:
			return true
		}
		return false
	case domain.RoleOperator:
		if entity != domain.EntityWorkOrder && entity != domain.EntitySKU {
			return false
		}
		return op == OpCreate || op == OpUpdate
	case domain.RoleViewer:
		return false
	default:
		return false
	}
}
