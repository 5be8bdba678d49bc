package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/auth"
)

// fakeService serves a fixed parent->children map and counts lookups.
type fakeService struct {
	children map[int64][]int64
	lookups  int
}

func (f *fakeService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	return &Organization{ID: id}, nil
}

func (f *fakeService) ChildrenOf(ctx context.Context, parentID int64) ([]int64, error) {
	f.lookups++
	return f.children[parentID], nil
}

func (f *fakeService) SetParent(ctx context.Context, orgID int64, parentID *int64) error {
	return nil
}

func (f *fakeService) UpsertMember(ctx context.Context, orgID int64, actorID uuid.UUID, role MemberRole) error {
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

func TestReachableOrganizations_SystemAdmin(t *testing.T) {
	resolver := NewHierarchyResolver(&fakeService{}, 16, time.Minute)

	actor := &auth.Actor{ID: uuid.New(), Role: auth.RoleSystemAdmin, OrganizationID: 1}
	set, err := resolver.ReachableOrganizations(context.Background(), actor)
	if err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}

	if !set.All {
		t.Error("Expected the sentinel all-organizations set for a system admin")
	}
	if !set.Contains(99999) {
		t.Error("Sentinel set must contain any organization")
	}
}

func TestReachableOrganizations_OrgAdminOneLevel(t *testing.T) {
	svc := &fakeService{children: map[int64][]int64{
		5: {7, 8},
		7: {9},
	}}
	resolver := NewHierarchyResolver(svc, 16, time.Minute)

	admin := &auth.Actor{
		ID:                    uuid.New(),
		Role:                  auth.RoleOrgAdmin,
		OrganizationID:        5,
		ManagedOrganizationID: int64Ptr(5),
	}

	set, err := resolver.ReachableOrganizations(context.Background(), admin)
	if err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}

	for _, want := range []int64{5, 7, 8} {
		if !set.Contains(want) {
			t.Errorf("Expected organization %d to be reachable", want)
		}
	}
	// Grandchild 9 is out of reach: exactly one hierarchy level.
	if set.Contains(9) {
		t.Error("Grandchild organization must not be reachable")
	}
}

func TestReachableOrganizations_Asymmetric(t *testing.T) {
	// Org 7 is a child of org 5. The admin of 7 must not reach 5.
	svc := &fakeService{children: map[int64][]int64{5: {7}}}
	resolver := NewHierarchyResolver(svc, 16, time.Minute)

	childAdmin := &auth.Actor{
		ID:                    uuid.New(),
		Role:                  auth.RoleOrgAdmin,
		OrganizationID:        7,
		ManagedOrganizationID: int64Ptr(7),
	}

	set, err := resolver.ReachableOrganizations(context.Background(), childAdmin)
	if err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}

	if set.Contains(5) {
		t.Error("Admin of a child organization must not reach the parent")
	}
	if !set.Contains(7) {
		t.Error("Admin must reach its own managed organization")
	}
}

func TestReachableOrganizations_RegularActor(t *testing.T) {
	resolver := NewHierarchyResolver(&fakeService{}, 16, time.Minute)

	inspector := &auth.Actor{ID: uuid.New(), Role: auth.RoleInspector, OrganizationID: 3}
	set, err := resolver.ReachableOrganizations(context.Background(), inspector)
	if err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}

	if !set.Contains(3) || set.Contains(4) || set.All {
		t.Errorf("Expected exactly {3}, got %+v", set)
	}
}

func TestReachableOrganizations_OrgAdminWithoutManagedOrg(t *testing.T) {
	resolver := NewHierarchyResolver(&fakeService{}, 16, time.Minute)

	admin := &auth.Actor{ID: uuid.New(), Role: auth.RoleOrgAdmin, OrganizationID: 2}
	set, err := resolver.ReachableOrganizations(context.Background(), admin)
	if err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}

	if !set.Contains(2) || set.All {
		t.Errorf("Expected exactly the actor's own organization, got %+v", set)
	}
}

func TestReachableOrganizations_CachesChildLookup(t *testing.T) {
	svc := &fakeService{children: map[int64][]int64{5: {7}}}
	resolver := NewHierarchyResolver(svc, 16, time.Minute)

	admin := &auth.Actor{
		ID:                    uuid.New(),
		Role:                  auth.RoleOrgAdmin,
		OrganizationID:        5,
		ManagedOrganizationID: int64Ptr(5),
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := resolver.ReachableOrganizations(ctx, admin); err != nil {
			t.Fatalf("ReachableOrganizations failed: %v", err)
		}
	}

	if svc.lookups != 1 {
		t.Errorf("Expected 1 child lookup with caching, got %d", svc.lookups)
	}

	resolver.Invalidate(5)
	if _, err := resolver.ReachableOrganizations(ctx, admin); err != nil {
		t.Fatalf("ReachableOrganizations failed: %v", err)
	}
	if svc.lookups != 2 {
		t.Errorf("Expected lookup after invalidation, got %d", svc.lookups)
	}
}
