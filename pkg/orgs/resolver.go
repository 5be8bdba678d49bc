package orgs

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vistoriahq/vistoria/pkg/auth"
)

// HierarchyResolver computes the set of organizations whose resources an
// actor may reach. Reachability is asymmetric and one level deep: an admin
// of a parent reaches its direct children, never the reverse.
type HierarchyResolver struct {
	service Service
	cache   *lru.LRU[int64, []int64]
}

// NewHierarchyResolver creates a resolver with a small expiring cache in
// front of the child lookup. TTL trades staleness for load: a new child
// organization becomes reachable to its parent admin within ttl.
func NewHierarchyResolver(service Service, cacheSize int, ttl time.Duration) *HierarchyResolver {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HierarchyResolver{
		service: service,
		cache:   lru.NewLRU[int64, []int64](cacheSize, nil, ttl),
	}
}

// ReachableOrganizations resolves the actor's organization reach:
//   - system admins get the sentinel "all organizations" set
//   - org admins with a managed organization M get {M} plus M's direct children
//   - everyone else gets their own organization only
func (r *HierarchyResolver) ReachableOrganizations(ctx context.Context, actor *auth.Actor) (OrgSet, error) {
	switch actor.Role {
	case auth.RoleSystemAdmin:
		return AllOrgs(), nil

	case auth.RoleOrgAdmin:
		if actor.ManagedOrganizationID == nil {
			return NewOrgSet(actor.OrganizationID), nil
		}
		managed := *actor.ManagedOrganizationID

		children, err := r.childrenOf(ctx, managed)
		if err != nil {
			return OrgSet{}, fmt.Errorf("failed to resolve subsidiaries of organization %d: %w", managed, err)
		}

		set := NewOrgSet(managed)
		for _, id := range children {
			set.IDs[id] = struct{}{}
		}
		return set, nil

	default:
		return NewOrgSet(actor.OrganizationID), nil
	}
}

func (r *HierarchyResolver) childrenOf(ctx context.Context, parentID int64) ([]int64, error) {
	if cached, ok := r.cache.Get(parentID); ok {
		return cached, nil
	}

	children, err := r.service.ChildrenOf(ctx, parentID)
	if err != nil {
		return nil, err
	}

	r.cache.Add(parentID, children)
	return children, nil
}

// Invalidate drops the cached child set for an organization. Called after
// parent reassignments so reachability changes take effect immediately.
func (r *HierarchyResolver) Invalidate(parentID int64) {
	r.cache.Remove(parentID)
}
