package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType categorizes what an audit event records
type ActionType string

const (
	// Account mutations
	ActionUserCreate  ActionType = "user.create"
	ActionUserUpdate  ActionType = "user.update"
	ActionUserDelete  ActionType = "user.delete"
	ActionUserApprove ActionType = "user.approve"
	ActionRoleChange  ActionType = "user.role_change"

	// Organization mutations
	ActionOrgCreate       ActionType = "organization.create"
	ActionOrgUpdate       ActionType = "organization.update"
	ActionOrgParentChange ActionType = "organization.parent_change"
	ActionOrgMemberUpsert ActionType = "organization.member_upsert"

	// Domain resource mutations
	ActionChecklistWrite  ActionType = "checklist.template_write"
	ActionInspectionWrite ActionType = "inspection.write"

	// Authorization outcomes
	ActionAccessDenied ActionType = "access.denied"

	// Protection enforcement
	ActionProtectedBlock           ActionType = "protected_identity.blocked"
	ActionPrivilegeEscalationBlock ActionType = "privilege_escalation.blocked"

	// Integrity reconciliation
	ActionIntegrityCheck   ActionType = "integrity.check"
	ActionIntegrityAutoFix ActionType = "integrity.auto_fix"
)

// Event is a single audit log entry. Rows are append-only: once written an
// event is never updated or deleted.
type Event struct {
	ID         int64           `json:"id"`
	ActorID    uuid.UUID       `json:"actor_id"`
	TargetID   string          `json:"target_id"`
	ActionType ActionType      `json:"action_type"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	Blocked    bool            `json:"blocked"`
	IPAddress  string          `json:"ip_address,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor / target filters
	ActorID  *uuid.UUID
	TargetID string

	// Event filters
	ActionTypes []ActionType
	Blocked     *bool

	// Pagination
	Limit  int
	Offset int

	// Sort order, "asc" or "desc" on created_at (default desc)
	SortOrder string
}

// Stats summarizes audit activity over a time range.
type Stats struct {
	TotalEvents   int64                `json:"total_events"`
	BlockedEvents int64                `json:"blocked_events"`
	ByActionType  map[ActionType]int64 `json:"by_action_type"`
}
