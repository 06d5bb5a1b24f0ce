package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
)

const cardID = "550e8400-e29b-41d4-a716-446655440000"

var (
	issuedAt        = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cardColumnNames = []string{"id", "pin", "bound_student_id", "issued_at", "usage_count", "usage_limit", "validity_seconds"}
)

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func cardRows(boundTo interface{}, usageCount int) *sqlmock.Rows {
	return sqlmock.NewRows(cardColumnNames).
		AddRow(cardID, "1234-5678-9012", boundTo, issuedAt, usageCount, 3, int64(7*24*3600))
}

func TestCardStore_FindByPin(t *testing.T) {
	db, mock := newTestDB(t)
	store := NewScratchCardStore(db)

	mock.ExpectQuery(`SELECT .+ FROM scratch_card WHERE pin = \$1 ORDER BY issued_at DESC LIMIT 1`).
		WithArgs("1234-5678-9012").
		WillReturnRows(cardRows(nil, 1))

	card, err := store.FindByPin(context.Background(), "1234-5678-9012")
	require.NoError(t, err)
	assert.Equal(t, cardID, card.ID)
	assert.Equal(t, "", card.BoundStudentID)
	assert.Equal(t, 1, card.UsageCount)
	assert.Equal(t, 7*24*time.Hour, card.ValidityWindow)
	assert.True(t, issuedAt.Equal(card.IssuedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardStore_FindByPin_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	store := NewScratchCardStore(db)

	mock.ExpectQuery(`SELECT .+ FROM scratch_card WHERE pin = \$1`).
		WithArgs("0000-0000-0000").
		WillReturnRows(sqlmock.NewRows(cardColumnNames))

	_, err := store.FindByPin(context.Background(), "0000-0000-0000")
	assert.Equal(t, scratchcard.ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardStore_TryIncrementUsage(t *testing.T) {
	db, mock := newTestDB(t)
	store := NewScratchCardStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM scratch_card WHERE id = \$1 FOR UPDATE`).
		WithArgs(cardID).
		WillReturnRows(cardRows(nil, 0))
	mock.ExpectExec(`UPDATE scratch_card SET usage_count = \$1, bound_student_id = \$2 WHERE id = \$3`).
		WithArgs(1, "student-1", cardID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	card, err := store.TryIncrementUsage(context.Background(), cardID, func(c *scratchcard.ScratchCard) error {
		c.UsageCount++
		c.BoundStudentID = "student-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, card.UsageCount)
	assert.Equal(t, "student-1", card.BoundStudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardStore_TryIncrementUsage_Rejected(t *testing.T) {
	db, mock := newTestDB(t)
	store := NewScratchCardStore(db)
	rejected := core.NewFieldValidationError("pin", "rejected")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs(cardID).
		WillReturnRows(cardRows("student-1", 3))
	mock.ExpectRollback()

	_, err := store.TryIncrementUsage(context.Background(), cardID, func(*scratchcard.ScratchCard) error {
		return rejected
	})
	assert.Equal(t, rejected, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardStore_InsertBatch(t *testing.T) {
	cards := []scratchcard.ScratchCard{
		{ID: "id-1", Pin: "1111-1111-1111", IssuedAt: issuedAt, UsageLimit: 3, ValidityWindow: time.Hour},
		{ID: "id-2", Pin: "2222-2222-2222", IssuedAt: issuedAt, UsageLimit: 3, ValidityWindow: time.Hour},
	}

	t.Run("inserted", func(t *testing.T) {
		db, mock := newTestDB(t)
		store := NewScratchCardStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT DISTINCT pin FROM scratch_card WHERE pin = ANY\(\$1\)`).
			WillReturnRows(sqlmock.NewRows([]string{"pin"}))
		mock.ExpectExec(`INSERT INTO scratch_card`).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, store.InsertBatch(context.Background(), cards, issuedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("collision", func(t *testing.T) {
		db, mock := newTestDB(t)
		store := NewScratchCardStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT DISTINCT pin FROM scratch_card`).
			WillReturnRows(sqlmock.NewRows([]string{"pin"}).AddRow("2222-2222-2222"))
		mock.ExpectRollback()

		err := store.InsertBatch(context.Background(), cards, issuedAt)
		require.Error(t, err)
		collision, ok := err.(*scratchcard.PinCollisionError)
		require.True(t, ok)
		assert.Equal(t, []string{"2222-2222-2222"}, collision.Pins)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCardStore_QueryCards(t *testing.T) {
	db, mock := newTestDB(t)
	store := NewScratchCardStore(db)

	mock.ExpectQuery(`SELECT .+ FROM scratch_card WHERE bound_student_id = \$1 ORDER BY usage_count ASC`).
		WithArgs("student-1").
		WillReturnRows(cardRows("student-1", 2))

	cards, err := store.QueryCards(
		context.Background(),
		scratchcard.QueryFilter{StudentID: "student-1"},
		[]core.DBOrdering{{Field: "usage_count", Ascending: true}},
	)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "student-1", cards[0].BoundStudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var userColumnNames = []string{
	"id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login",
}

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM "user" WHERE \(username = \$1 OR email = \$1\) LIMIT 1`).
		WithArgs("admin@masomo.local").
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow(
			cardID, "Admin", "admin", "admin@masomo.local", true, []byte("{admin:}"), []byte("hash"), issuedAt, issuedAt, nil,
		))

	usr, err := repo.GetUser(context.Background(), user.GetFilter{UsernameOrEmail: "admin@masomo.local"})
	require.NoError(t, err)
	assert.Equal(t, "admin", usr.Username)
	assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
	assert.True(t, usr.IsAdmin())
	assert.True(t, usr.LastLogin.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetUser_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM "user" WHERE id::text = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userColumnNames))

	_, err := repo.GetUser(context.Background(), user.GetFilter{ID: "missing"})
	assert.Equal(t, user.ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CheckUniqueness(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{"unique", sqlmock.NewRows(userColumnNames), nil},
		{
			"username taken",
			sqlmock.NewRows(userColumnNames).AddRow(
				"other", "X", "jdoe", "x@masomo.local", true, []byte("{}"), nil, issuedAt, issuedAt, nil,
			),
			user.ErrUsernameExists,
		},
		{
			"email taken",
			sqlmock.NewRows(userColumnNames).AddRow(
				"other", "X", "other", "jdoe@masomo.local", true, []byte("{}"), nil, issuedAt, issuedAt, nil,
			),
			user.ErrEmailExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newTestDB(t)
			repo := NewUserRepository(db)

			mock.ExpectQuery(`SELECT .+ FROM "user" WHERE \(username = \$1 OR email = \$2\) AND id::text <> \$3`).
				WithArgs("jdoe", "jdoe@masomo.local", "").
				WillReturnRows(tt.rows)

			err := repo.CheckUniqueness(context.Background(), "jdoe", "jdoe@masomo.local", "")
			assert.Equal(t, tt.wantErr, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_UpdateUser_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`UPDATE "user" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdateUser(context.Background(), user.User{ID: "missing", UpdatedAt: issuedAt})
	assert.Equal(t, user.ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
