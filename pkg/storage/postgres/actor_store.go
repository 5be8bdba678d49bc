package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/vistoriahq/vistoria/pkg/auth"
)

// ActorStore resolves bearer tokens to accounts. Tokens are stored hashed;
// the raw value never touches the database.
type ActorStore struct {
	db *sql.DB
}

// NewActorStore creates a new actor store
func NewActorStore(db *sql.DB) *ActorStore {
	return &ActorStore{db: db}
}

// ActorByToken resolves a bearer token to its account. Returns an error for
// unknown or expired tokens; the caller answers 401 either way.
func (s *ActorStore) ActorByToken(ctx context.Context, token string) (*auth.Actor, error) {
	sum := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(sum[:])

	query := `
		SELECT a.id, a.email, a.role, a.organization_id, a.managed_organization_id,
		       a.is_active, a.approval_state, a.can_manage_users, a.can_create_organizations,
		       a.created_at, a.updated_at
		FROM actors a
		JOIN api_tokens t ON t.actor_id = a.id
		WHERE t.token_hash = $1
		  AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`

	actor := &auth.Actor{}
	var role, approvalState string
	var managedOrgID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&actor.ID, &actor.Email, &role, &actor.OrganizationID, &managedOrgID,
		&actor.IsActive, &approvalState, &actor.CanManageUsers, &actor.CanCreateOrganizations,
		&actor.CreatedAt, &actor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	actor.Role = auth.ParseRole(role)
	actor.ApprovalState = auth.ApprovalState(approvalState)
	if managedOrgID.Valid {
		id := managedOrgID.Int64
		actor.ManagedOrganizationID = &id
	}

	return actor, nil
}

// UpdateActor persists the mutable account fields. The caller is expected to
// have passed the guard and decision engine first.
func (s *ActorStore) UpdateActor(ctx context.Context, actor *auth.Actor) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE actors
		SET email = $1, role = $2, is_active = $3, approval_state = $4,
		    can_manage_users = $5, can_create_organizations = $6, updated_at = NOW()
		WHERE id = $7
	`,
		actor.Email, actor.Role, actor.IsActive, actor.ApprovalState,
		actor.CanManageUsers, actor.CanCreateOrganizations, actor.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update actor: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("actor not found")
	}
	return nil
}

// ActorByID loads an account by id.
func (s *ActorStore) ActorByID(ctx context.Context, id string) (*auth.Actor, error) {
	query := `
		SELECT a.id, a.email, a.role, a.organization_id, a.managed_organization_id,
		       a.is_active, a.approval_state, a.can_manage_users, a.can_create_organizations,
		       a.created_at, a.updated_at
		FROM actors a
		WHERE a.id = $1
	`

	actor := &auth.Actor{}
	var role, approvalState string
	var managedOrgID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&actor.ID, &actor.Email, &role, &actor.OrganizationID, &managedOrgID,
		&actor.IsActive, &approvalState, &actor.CanManageUsers, &actor.CanCreateOrganizations,
		&actor.CreatedAt, &actor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("actor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}

	actor.Role = auth.ParseRole(role)
	actor.ApprovalState = auth.ApprovalState(approvalState)
	if managedOrgID.Valid {
		id := managedOrgID.Int64
		actor.ManagedOrganizationID = &id
	}

	return actor, nil
}
