package postgres

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. Each statement is idempotent;
// the audit_logs table is owned by the audit package and created there.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		parent_organization_id BIGINT REFERENCES organizations(id),
		organization_level VARCHAR(20) NOT NULL DEFAULT 'company',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_parent ON organizations(parent_organization_id)`,

	`CREATE TABLE IF NOT EXISTS actors (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		role VARCHAR(50) NOT NULL,
		organization_id BIGINT NOT NULL REFERENCES organizations(id),
		managed_organization_id BIGINT REFERENCES organizations(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		approval_state VARCHAR(20) NOT NULL DEFAULT 'pending',
		can_manage_users BOOLEAN NOT NULL DEFAULT FALSE,
		can_create_organizations BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actors_organization ON actors(organization_id)`,

	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id BIGINT NOT NULL REFERENCES organizations(id),
		actor_id UUID NOT NULL REFERENCES actors(id),
		member_role VARCHAR(20) NOT NULL DEFAULT 'member',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (organization_id, actor_id)
	)`,

	`CREATE TABLE IF NOT EXISTS api_tokens (
		id BIGSERIAL PRIMARY KEY,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		actor_id UUID NOT NULL REFERENCES actors(id),
		expires_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS protected_identities (
		user_id UUID PRIMARY KEY REFERENCES actors(id),
		protection_level VARCHAR(20) NOT NULL,
		protected_roles TEXT[] NOT NULL DEFAULT '{}',
		protected_permissions TEXT[] NOT NULL DEFAULT '{}',
		reason TEXT,
		created_by UUID,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
}

// Migrate brings the schema up to date.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
