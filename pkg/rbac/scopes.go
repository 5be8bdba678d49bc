// Package rbac implements the per-request authorization decision: a fixed
// role-to-scope mapping combined with organization reachability and an
// ownership fallback. Decisions are pure functions of the current database
// snapshot; no policy is configurable at runtime.
package rbac

import (
	"github.com/vistoriahq/vistoria/pkg/auth"
)

// roleScopes is the single exhaustive mapping from role to capability
// scopes. Roles outside the closed set carry no scopes at all.
var roleScopes = map[auth.Role]auth.ScopeSet{
	auth.RoleSystemAdmin: auth.NewScopeSet(
		auth.ScopeAll,
	),
	auth.RoleOrgAdmin: auth.NewScopeSet(
		auth.ScopeUsersRead,
		auth.ScopeUsersWrite,
		auth.ScopeOrgsRead,
		auth.ScopeOrgsWrite,
		auth.ScopeChecklistsRead,
		auth.ScopeChecklistsWrite,
		auth.ScopeInspectionsRead,
		auth.ScopeInspectionsWrite,
		auth.ScopeResultsWrite,
	),
	auth.RoleInspector: auth.NewScopeSet(
		auth.ScopeUsersRead,
		auth.ScopeOrgsRead,
		auth.ScopeChecklistsRead,
		auth.ScopeInspectionsRead,
		auth.ScopeResultsWrite,
	),
	auth.RoleViewer: auth.NewScopeSet(
		auth.ScopeOrgsRead,
		auth.ScopeChecklistsRead,
		auth.ScopeInspectionsRead,
	),
}

// ScopesFor returns the scope set granted by a role. Unrecognized roles get
// the empty set, which denies everything.
func ScopesFor(role auth.Role) auth.ScopeSet {
	scopes, ok := roleScopes[role]
	if !ok {
		return auth.ScopeSet{}
	}

	out := make(auth.ScopeSet, len(scopes))
	for scope := range scopes {
		out[scope] = struct{}{}
	}
	return out
}
