package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistoriahq/vistoria/pkg/auth"
)

func actorRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "role", "organization_id", "managed_organization_id",
		"is_active", "approval_state", "can_manage_users", "can_create_organizations",
		"created_at", "updated_at",
	})
}

func TestActorStore_ActorByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewActorStore(db)
	actorID := uuid.New()
	now := time.Now()

	t.Run("resolves hashed token", func(t *testing.T) {
		sum := sha256.Sum256([]byte("raw-token"))
		mock.ExpectQuery(`SELECT(.|\n)+FROM actors a(.|\n)+JOIN api_tokens`).
			WithArgs(hex.EncodeToString(sum[:])).
			WillReturnRows(actorRows().AddRow(
				actorID, "gestora@vistoria.app", "org_admin", int64(5), int64(5),
				true, "approved", true, false, now, now,
			))

		actor, err := store.ActorByToken(context.Background(), "raw-token")
		require.NoError(t, err)
		assert.Equal(t, actorID, actor.ID)
		assert.Equal(t, auth.RoleOrgAdmin, actor.Role)
		require.NotNil(t, actor.ManagedOrganizationID)
		assert.Equal(t, int64(5), *actor.ManagedOrganizationID)
	})

	t.Run("unknown token", func(t *testing.T) {
		mock.ExpectQuery(`SELECT(.|\n)+JOIN api_tokens`).
			WillReturnRows(actorRows())

		_, err := store.ActorByToken(context.Background(), "bogus")
		assert.Error(t, err)
	})

	t.Run("legacy role string parses to unknown", func(t *testing.T) {
		sum := sha256.Sum256([]byte("legacy"))
		mock.ExpectQuery(`SELECT(.|\n)+JOIN api_tokens`).
			WithArgs(hex.EncodeToString(sum[:])).
			WillReturnRows(actorRows().AddRow(
				actorID, "antiga@vistoria.app", "sys_admin", int64(5), nil,
				true, "approved", false, false, now, now,
			))

		actor, err := store.ActorByToken(context.Background(), "legacy")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleUnknown, actor.Role)
		assert.Nil(t, actor.ManagedOrganizationID)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
