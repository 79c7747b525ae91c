package domain

import "fmt"

// ErrNotFound is returned when a record does not exist in the caller's view.
// Out-of-scope rows surface as not found so a denial never reveals whether the
// row exists in another factory.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AuthorizationViolation is returned when the policy engine denies an
// operation. The message carries only the attempted operation, never details
// about rows outside the caller's scope.
type AuthorizationViolation struct {
	Op string
}

func (e AuthorizationViolation) Error() string {
	if e.Op == "" {
		return "access denied"
	}
	return fmt.Sprintf("access denied: %s", e.Op)
}

// OptimisticLockConflict is returned when a mutation's expected version does
// not match the stored version. Current carries the now-current version so the
// caller can re-fetch and merge.
type OptimisticLockConflict struct {
	Entity    EntityType
	ID        string
	Current   int
	Attempted int
}

func (e OptimisticLockConflict) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, current %d", e.Entity, e.ID, e.Attempted, e.Current)
}

// ValidationError reports a rejected field value on a write.
type ValidationError struct {
	Entity EntityType
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s", e.Entity, e.Field, e.Reason)
}

// ChainIntegrityViolation reports a detected break in an audit chain or a
// checkpoint digest mismatch. It is evidence of tampering: reported to the
// operator channel, never auto-healed, and the underlying storage mutation is
// not rolled back.
type ChainIntegrityViolation struct {
	Target   EntityType
	TargetID string
	Position int
	Detail   string
}

func (e ChainIntegrityViolation) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("audit integrity violation: %s", e.Detail)
	}
	return fmt.Sprintf("audit chain broken for %s %s at position %d: %s", e.Target, e.TargetID, e.Position, e.Detail)
}

// TransientTransportError indicates a realtime transport interruption. It is
// resolved by a single catch-up refetch on reconnect, never by replaying
// missed events.
type TransientTransportError struct {
	Cause error
}

func (e TransientTransportError) Error() string {
	if e.Cause == nil {
		return "realtime transport interrupted"
	}
	return fmt.Sprintf("realtime transport interrupted: %v", e.Cause)
}

func (e TransientTransportError) Unwrap() error { return e.Cause }
