package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service defines organization lookups used by the authorization engine
type Service interface {
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	ChildrenOf(ctx context.Context, parentID int64) ([]int64, error)
	SetParent(ctx context.Context, orgID int64, parentID *int64) error
	UpsertMember(ctx context.Context, orgID int64, actorID uuid.UUID, role MemberRole) error
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `
		SELECT id, name, slug, parent_organization_id, organization_level, is_active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	org := &Organization{}
	var parentID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.Slug, &parentID, &org.Level,
		&org.IsActive, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if parentID.Valid {
		pid := parentID.Int64
		org.ParentOrganizationID = &pid
	}

	return org, nil
}

// ChildrenOf returns the IDs of the direct subsidiaries of an organization.
// Only one level: the authorization model never traverses deeper.
func (s *PostgresService) ChildrenOf(ctx context.Context, parentID int64) ([]int64, error) {
	query := `SELECT id FROM organizations WHERE parent_organization_id = $1`

	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child organizations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child organization: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SetParent assigns a parent organization, rejecting assignments that would
// close a loop. The full ancestor chain is walked at write time even though
// reads only ever go one level deep.
func (s *PostgresService) SetParent(ctx context.Context, orgID int64, parentID *int64) error {
	if parentID != nil {
		if *parentID == orgID {
			return ErrCycle
		}

		// Walk up from the proposed parent; hitting orgID means a cycle.
		current := *parentID
		for i := 0; i < maxHierarchyDepth; i++ {
			var next sql.NullInt64
			err := s.db.QueryRowContext(ctx,
				`SELECT parent_organization_id FROM organizations WHERE id = $1`,
				current,
			).Scan(&next)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to walk organization hierarchy: %w", err)
			}
			if !next.Valid {
				break
			}
			if next.Int64 == orgID {
				return ErrCycle
			}
			current = next.Int64
		}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET parent_organization_id = $1, updated_at = NOW() WHERE id = $2`,
		parentID, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to set organization parent: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

// maxHierarchyDepth bounds the ancestor walk in SetParent so a pre-existing
// corrupt chain cannot spin forever.
const maxHierarchyDepth = 32

// UpsertMember asserts an actor's membership in an organization. Safe under
// concurrent execution: the (organization_id, actor_id) pair is unique and
// conflicting inserts converge on the same role.
func (s *PostgresService) UpsertMember(ctx context.Context, orgID int64, actorID uuid.UUID, role MemberRole) error {
	query := `
		INSERT INTO organization_members (organization_id, actor_id, member_role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (organization_id, actor_id)
		DO UPDATE SET member_role = EXCLUDED.member_role, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, actorID, role); err != nil {
		return fmt.Errorf("failed to upsert organization member: %w", err)
	}
	return nil
}
