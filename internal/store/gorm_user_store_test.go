package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/reliefportal/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestGormUserStore_FindByMobile(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormUserStore(db)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "name", "mobile", "national_id", "password_hash", "role", "is_active"}).
		AddRow(id.String(), "Asha", "9876543210", "123456789012", "digest", "public", true)
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE mobile = \$1`).WillReturnRows(rows)

	user, err := s.FindByMobile(context.Background(), "9876543210")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "123456789012", user.NationalID)
	assert.True(t, user.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUserStore_FindByNationalID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormUserStore(db)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE national_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindByNationalID(context.Background(), "123456789012")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUserStore_FindByID_PropagatesDriverErrors(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormUserStore(db)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).WillReturnError(boom)

	_, err := s.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGormUserStore_RotateRefreshToken(t *testing.T) {
	t.Run("rotates when current matches", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewGormUserStore(db)

		mock.ExpectExec(`UPDATE "users" SET "refresh_token"=\$1`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.RotateRefreshToken(context.Background(), uuid.New(), "old", "new")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale when no row matched", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewGormUserStore(db)

		mock.ExpectExec(`UPDATE "users" SET "refresh_token"=\$1`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.RotateRefreshToken(context.Background(), uuid.New(), "superseded", "new")
		assert.ErrorIs(t, err, ErrStaleToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormUserStore_SetRefreshToken_UnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormUserStore(db)

	mock.ExpectExec(`UPDATE "users" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	err := s.SetRefreshToken(context.Background(), uuid.New(), nil, &now)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		field string
	}{
		{"pgx mobile", &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_mobile"}, "mobile"},
		{"pgx national id", &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_national_id"}, "nationalId"},
		{"lib/pq mobile", &pq.Error{Code: "23505", Constraint: "idx_users_mobile"}, "mobile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dup *DuplicateError
			require.ErrorAs(t, translateError(tt.err), &dup)
			assert.Equal(t, tt.field, dup.Field)
		})
	}

	other := &pgconn.PgError{Code: "23503"}
	assert.Same(t, error(other), translateError(other))
	assert.NoError(t, translateError(nil))
}

func TestGormMasterStore_ListDistricts(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormMasterStore(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "districts" WHERE is_active = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT \* FROM "districts" WHERE is_active = \$1 ORDER BY name asc LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active"}).
			AddRow(uuid.NewString(), "Jaipur", true).
			AddRow(uuid.NewString(), "Kota", true))

	districts, total, err := s.ListDistricts(context.Background(), Page{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, districts, 2)
	assert.Equal(t, "Jaipur", districts[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMasterStore_CreateBlockUnknownDistrict(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormMasterStore(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "districts" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := s.CreateBlock(context.Background(), &models.Block{Name: "Sanganer", DistrictID: uuid.New()})
	assert.ErrorIs(t, err, ErrParentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolation(t *testing.T) {
	c, ok := UniqueViolation(&pq.Error{Code: "23505", Constraint: "idx_block_district"})
	assert.True(t, ok)
	assert.Equal(t, "idx_block_district", c)

	_, ok = UniqueViolation(errors.New("boom"))
	assert.False(t, ok)
}
