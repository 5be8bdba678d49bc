package orgs

import (
	"errors"
	"time"
)

// OrgLevel represents where an organization sits in the tenant hierarchy
type OrgLevel string

const (
	LevelMaster  OrgLevel = "master"
	LevelCompany OrgLevel = "company"
	LevelBranch  OrgLevel = "branch"
)

// MemberRole represents an actor's role within an organization
type MemberRole string

const (
	MemberRoleOwner   MemberRole = "owner"
	MemberRoleRegular MemberRole = "member"
)

// Organization represents a tenant
type Organization struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug"`
	ParentOrganizationID *int64    `json:"parent_organization_id,omitempty"`
	Level                OrgLevel  `json:"organization_level"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ErrCycle is returned when a parent assignment would close a loop in the
// organization hierarchy.
var ErrCycle = errors.New("organization parent assignment would create a cycle")

// ErrNotFound is returned when an organization does not exist.
var ErrNotFound = errors.New("organization not found")

// OrgSet is the result of a reachability computation. All is a sentinel for
// system admins, meaning callers must apply no organization filter.
type OrgSet struct {
	All bool
	IDs map[int64]struct{}
}

// NewOrgSet builds a finite set from the given IDs.
func NewOrgSet(ids ...int64) OrgSet {
	set := OrgSet{IDs: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		set.IDs[id] = struct{}{}
	}
	return set
}

// AllOrgs returns the sentinel set covering every organization.
func AllOrgs() OrgSet {
	return OrgSet{All: true}
}

// Contains reports whether the set covers the given organization.
func (s OrgSet) Contains(id int64) bool {
	if s.All {
		return true
	}
	_, ok := s.IDs[id]
	return ok
}
