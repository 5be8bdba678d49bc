// Package integrity reconciles the protected identity's stored state against
// the configuration it was deployed with. Drift is detected by checkIntegrity
// and repaired by autoFix using idempotent upserts, so concurrent repairs
// converge without locking.
package integrity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/orgs"
)

// Status of an integrity check.
type Status string

const (
	StatusOK        Status = "ok"
	StatusMissing   Status = "missing"
	StatusCorrupted Status = "corrupted"
)

// Action taken by an auto-fix.
type Action string

const (
	ActionCreated        Action = "created"
	ActionUpdated        Action = "updated"
	ActionNoActionNeeded Action = "no_action_needed"
)

// ProtectionLevel stored in the protection registration row.
const ProtectionLevel = "maximum"

// Report is the result of one integrity check.
type Report struct {
	Status    Status    `json:"status"`
	Details   []string  `json:"details,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Result is the outcome of one auto-fix run.
type Result struct {
	Action  Action   `json:"action"`
	Details []string `json:"details,omitempty"`
}

// Checker verifies and restores the protected identity's invariants.
type Checker struct {
	db        *sql.DB
	protected auth.ProtectedIdentity
	reason    string
	orgs      orgs.Service
	auditor   audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics

	// Collapses concurrent auto-fix calls into one repair.
	fixGroup singleflight.Group
}

// NewChecker creates an integrity checker. Metrics may be nil.
func NewChecker(db *sql.DB, protected auth.ProtectedIdentity, reason string, orgService orgs.Service, auditor audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Checker {
	return &Checker{
		db:        db,
		protected: protected,
		reason:    reason,
		orgs:      orgService,
		auditor:   auditor,
		logger:    logger,
		metrics:   metrics,
	}
}

// expected is the protected actor's configured state. Every field listed
// here is immutable except through self-service.
type expected struct {
	Email                  string
	Role                   auth.Role
	OrganizationID         int64
	IsActive               bool
	ApprovalState          auth.ApprovalState
	CanManageUsers         bool
	CanCreateOrganizations bool
}

func (c *Checker) expectedState() expected {
	return expected{
		Email:                  c.protected.Email,
		Role:                   auth.RoleSystemAdmin,
		OrganizationID:         c.protected.OrganizationID,
		IsActive:               true,
		ApprovalState:          auth.ApprovalApproved,
		CanManageUsers:         true,
		CanCreateOrganizations: true,
	}
}

// CheckIntegrity compares the protected actor's row and its protection
// registration against the expected configuration.
func (c *Checker) CheckIntegrity(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: time.Now().UTC()}
	want := c.expectedState()

	var (
		email                  string
		role                   string
		organizationID         int64
		isActive               bool
		approvalState          string
		canManageUsers         bool
		canCreateOrganizations bool
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT email, role, organization_id, is_active, approval_state,
		       can_manage_users, can_create_organizations
		FROM actors
		WHERE id = $1
	`, c.protected.ID).Scan(
		&email, &role, &organizationID, &isActive, &approvalState,
		&canManageUsers, &canCreateOrganizations,
	)
	if err == sql.ErrNoRows {
		report.Status = StatusMissing
		report.Details = append(report.Details, "protected actor row does not exist")
		c.observeCheck(report.Status)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load protected actor: %w", err)
	}

	if email != want.Email {
		report.Details = append(report.Details, fmt.Sprintf("email is %q, expected %q", email, want.Email))
	}
	if auth.ParseRole(role) != want.Role {
		report.Details = append(report.Details, fmt.Sprintf("role is %q, expected %q", role, want.Role))
	}
	if organizationID != want.OrganizationID {
		report.Details = append(report.Details, fmt.Sprintf("organization is %d, expected %d", organizationID, want.OrganizationID))
	}
	if !isActive {
		report.Details = append(report.Details, "actor is inactive")
	}
	if auth.ApprovalState(approvalState) != want.ApprovalState {
		report.Details = append(report.Details, fmt.Sprintf("approval state is %q, expected %q", approvalState, want.ApprovalState))
	}
	if canManageUsers != want.CanManageUsers {
		report.Details = append(report.Details, "can_manage_users flag drifted")
	}
	if canCreateOrganizations != want.CanCreateOrganizations {
		report.Details = append(report.Details, "can_create_organizations flag drifted")
	}

	var registrations int
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM protected_identities WHERE user_id = $1`,
		c.protected.ID,
	).Scan(&registrations)
	if err != nil {
		return nil, fmt.Errorf("failed to load protection registration: %w", err)
	}
	if registrations == 0 {
		report.Details = append(report.Details, "protection registration is missing")
	}

	if len(report.Details) == 0 {
		report.Status = StatusOK
	} else {
		report.Status = StatusCorrupted
	}
	c.observeCheck(report.Status)
	return report, nil
}

// AutoFix restores the protected identity to its expected state. Safe to
// call repeatedly and concurrently: simultaneous callers share one repair,
// and the writes themselves are upserts.
func (c *Checker) AutoFix(ctx context.Context, triggeredBy uuid.UUID) (*Result, error) {
	v, err, _ := c.fixGroup.Do("auto_fix", func() (interface{}, error) {
		return c.autoFix(ctx, triggeredBy)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *Checker) autoFix(ctx context.Context, triggeredBy uuid.UUID) (*Result, error) {
	report, err := c.CheckIntegrity(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Details: report.Details}
	switch report.Status {
	case StatusOK:
		result.Action = ActionNoActionNeeded
		c.observeFix(result.Action)
		return result, nil
	case StatusMissing:
		result.Action = ActionCreated
	default:
		result.Action = ActionUpdated
	}

	if err := c.upsertActor(ctx); err != nil {
		return nil, err
	}
	if err := c.orgs.UpsertMember(ctx, c.protected.OrganizationID, c.protected.ID, orgs.MemberRoleOwner); err != nil {
		return nil, fmt.Errorf("failed to assert organization membership: %w", err)
	}
	if err := c.upsertProtection(ctx, triggeredBy); err != nil {
		return nil, err
	}

	c.observeFix(result.Action)
	c.recordFix(ctx, triggeredBy, result)
	c.logger.WithFields(map[string]interface{}{
		"action":       string(result.Action),
		"triggered_by": triggeredBy.String(),
	}).Info("protected identity restored")

	return result, nil
}

func (c *Checker) upsertActor(ctx context.Context) error {
	want := c.expectedState()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO actors (
			id, email, role, organization_id, is_active, approval_state,
			can_manage_users, can_create_organizations, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			organization_id = EXCLUDED.organization_id,
			is_active = EXCLUDED.is_active,
			approval_state = EXCLUDED.approval_state,
			can_manage_users = EXCLUDED.can_manage_users,
			can_create_organizations = EXCLUDED.can_create_organizations,
			updated_at = NOW()
	`,
		c.protected.ID, want.Email, want.Role, want.OrganizationID,
		want.IsActive, want.ApprovalState, want.CanManageUsers, want.CanCreateOrganizations,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert protected actor: %w", err)
	}
	return nil
}

func (c *Checker) upsertProtection(ctx context.Context, createdBy uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO protected_identities (
			user_id, protection_level, protected_roles, protected_permissions,
			reason, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			protection_level = EXCLUDED.protection_level,
			protected_roles = EXCLUDED.protected_roles,
			protected_permissions = EXCLUDED.protected_permissions,
			reason = EXCLUDED.reason,
			updated_at = NOW()
	`,
		c.protected.ID, ProtectionLevel,
		pq.Array([]string{string(auth.RoleSystemAdmin)}),
		pq.Array([]string{"can_manage_users", "can_create_organizations"}),
		c.reason, createdBy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert protection registration: %w", err)
	}
	return nil
}

func (c *Checker) recordFix(ctx context.Context, triggeredBy uuid.UUID, result *Result) {
	newValue, err := json.Marshal(result)
	if err != nil {
		newValue = nil
	}
	event := audit.NewEvent(triggeredBy, c.protected.ID.String(), audit.ActionIntegrityAutoFix, false, nil)
	event.NewValue = newValue
	if err := c.auditor.Record(ctx, event); err != nil {
		c.logger.WithError(err).Error("failed to record auto-fix")
	}
}

func (c *Checker) observeCheck(status Status) {
	if c.metrics != nil {
		c.metrics.IntegrityChecksTotal.WithLabelValues(string(status)).Inc()
	}
}

func (c *Checker) observeFix(action Action) {
	if c.metrics != nil {
		c.metrics.IntegrityFixesTotal.WithLabelValues(string(action)).Inc()
	}
}
