package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of actor categories. Authorization never compares
// raw role strings outside this package; unrecognized input parses to
// RoleUnknown, which carries no scopes.
type Role string

const (
	RoleSystemAdmin Role = "system_admin"
	RoleOrgAdmin    Role = "org_admin"
	RoleInspector   Role = "inspector"
	RoleViewer      Role = "viewer"
	RoleUnknown     Role = ""
)

// ParseRole maps a stored role string to the closed Role set.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSystemAdmin, RoleOrgAdmin, RoleInspector, RoleViewer:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	return r != RoleUnknown
}

// ApprovalState is the actor approval lifecycle. Pending actors transition
// exactly once, to approved or rejected.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Actor represents a user account as resolved by the transport layer.
type Actor struct {
	ID                     uuid.UUID     `json:"id"`
	Email                  string        `json:"email"`
	Role                   Role          `json:"role"`
	OrganizationID         int64         `json:"organization_id"`
	ManagedOrganizationID  *int64        `json:"managed_organization_id,omitempty"`
	IsActive               bool          `json:"is_active"`
	ApprovalState          ApprovalState `json:"approval_state"`
	CanManageUsers         bool          `json:"can_manage_users"`
	CanCreateOrganizations bool          `json:"can_create_organizations"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Scope is a named capability granted by role.
type Scope string

const (
	// ScopeAll is the universal scope held only by system admins.
	ScopeAll Scope = "*"

	ScopeUsersRead        Scope = "users:read"
	ScopeUsersWrite       Scope = "users:write"
	ScopeOrgsRead         Scope = "organizations:read"
	ScopeOrgsWrite        Scope = "organizations:write"
	ScopeChecklistsRead   Scope = "checklist:templates:read"
	ScopeChecklistsWrite  Scope = "checklist:templates:write"
	ScopeInspectionsRead  Scope = "inspections:read"
	ScopeInspectionsWrite Scope = "inspections:write"
	ScopeResultsWrite     Scope = "inspections:results:write"
	ScopeAuditRead        Scope = "audit:read"
	ScopeSystemAdmin      Scope = "system:admin"
)

// ScopeSet is an unordered set of scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the scope, honoring the universal
// wildcard.
func (s ScopeSet) Has(scope Scope) bool {
	if _, ok := s[ScopeAll]; ok {
		return true
	}
	_, ok := s[scope]
	return ok
}

// HasAll reports whether the set contains the universal scope.
func (s ScopeSet) HasAll() bool {
	_, ok := s[ScopeAll]
	return ok
}

// ResourceRef describes the resource an authorization decision is made
// against. Any domain entity (inspection, action item, template, user)
// reduces to this shape.
type ResourceRef struct {
	Type           string     `json:"type"`
	ID             string     `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	AssignedTo     *uuid.UUID `json:"assigned_to,omitempty"`
}

// Operation distinguishes reads from mutations for audit purposes.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Mutating reports whether the operation changes state.
func (o Operation) Mutating() bool {
	return o != OpRead
}
