package orgs

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresService_ChildrenOf(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)

	t.Run("returns direct children only", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id"}).AddRow(7).AddRow(8)
		mock.ExpectQuery(`SELECT id FROM organizations WHERE parent_organization_id`).
			WithArgs(int64(5)).
			WillReturnRows(rows)

		ids, err := svc.ChildrenOf(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, []int64{7, 8}, ids)
	})

	t.Run("no children", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM organizations WHERE parent_organization_id`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ids, err := svc.ChildrenOf(context.Background(), 9)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresService_SetParent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)

	t.Run("rejects self parent", func(t *testing.T) {
		err := svc.SetParent(context.Background(), 5, int64Ptr(5))
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("rejects cycle through ancestor chain", func(t *testing.T) {
		// Proposed: parent(7) = 9, where 9's chain already leads back to 7.
		mock.ExpectQuery(`SELECT parent_organization_id FROM organizations`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"parent_organization_id"}).AddRow(7))

		err := svc.SetParent(context.Background(), 7, int64Ptr(9))
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("assigns valid parent", func(t *testing.T) {
		mock.ExpectQuery(`SELECT parent_organization_id FROM organizations`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"parent_organization_id"}).AddRow(nil))
		mock.ExpectExec(`UPDATE organizations SET parent_organization_id`).
			WithArgs(int64Ptr(5), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.SetParent(context.Background(), 7, int64Ptr(5))
		assert.NoError(t, err)
	})

	t.Run("clears parent", func(t *testing.T) {
		mock.ExpectExec(`UPDATE organizations SET parent_organization_id`).
			WithArgs(nil, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.SetParent(context.Background(), 7, nil)
		assert.NoError(t, err)
	})

	t.Run("unknown organization", func(t *testing.T) {
		mock.ExpectExec(`UPDATE organizations SET parent_organization_id`).
			WithArgs(nil, int64(404)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := svc.SetParent(context.Background(), 404, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresService_UpsertMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	actorID := uuid.New()

	t.Run("inserts membership", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO organization_members`).
			WithArgs(int64(1), actorID, MemberRoleOwner).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := svc.UpsertMember(context.Background(), 1, actorID, MemberRoleOwner)
		assert.NoError(t, err)
	})

	t.Run("idempotent on conflict", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO organization_members`).
			WithArgs(int64(1), actorID, MemberRoleOwner).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.UpsertMember(context.Background(), 1, actorID, MemberRoleOwner)
		assert.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
