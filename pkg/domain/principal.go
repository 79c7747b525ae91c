package domain

// Role classifies what a principal may do within its factory scope.
type Role string

// Caller roles. Admin implies global scope; the remaining roles act only
// inside their assigned factories.
const (
	// RoleAdmin bypasses factory scoping entirely.
	RoleAdmin Role = "admin"
	// RoleManager administers records and approves work orders in scope.
	RoleManager Role = "manager"
	// RoleOperator creates and updates production records but cannot approve.
	RoleOperator Role = "operator"
	// RoleViewer has read-only access in scope.
	RoleViewer Role = "viewer"
)

// Principal is the authenticated caller's scope context, supplied per call by
// an external auth layer and immutable within a request. An empty FactoryIDs
// set without Global yields deny-all, not an error.
type Principal struct {
	Subject    string
	Role       Role
	FactoryIDs []string
	Global     bool
}

// Actor carries the attribution recorded on audit records.
type Actor struct {
	Subject   string
	IP        string
	UserAgent string
}

// Session bundles the authorization context and audit attribution for one
// mutation call.
type Session struct {
	Principal Principal
	Actor     Actor
}

// NewSession builds a session whose actor defaults to the principal's subject.
func NewSession(principal Principal, actor Actor) Session {
	if actor.Subject == "" {
		actor.Subject = principal.Subject
	}
	return Session{Principal: principal, Actor: actor}
}
