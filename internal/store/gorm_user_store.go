package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/example/reliefportal/internal/models"
)

const uniqueViolation = "23505"

// GormUserStore persists users through GORM.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore constructs a GormUserStore.
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

func (s *GormUserStore) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return s.first(ctx, "mobile = ?", mobile)
}

func (s *GormUserStore) FindByNationalID(ctx context.Context, nationalID string) (*models.User, error) {
	return s.first(ctx, "national_id = ?", nationalID)
}

func (s *GormUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormUserStore) first(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormUserStore) Create(ctx context.Context, user *models.User) error {
	return translateError(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormUserStore) Save(ctx context.Context, user *models.User) error {
	return translateError(s.db.WithContext(ctx).Save(user).Error)
}

func (s *GormUserStore) SetRefreshToken(ctx context.Context, id uuid.UUID, token *string, lastLogin *time.Time) error {
	updates := map[string]interface{}{"refresh_token": token}
	if lastLogin != nil {
		updates["last_login"] = *lastLogin
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormUserStore) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", id, current).
		Update("refresh_token", next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleToken
	}
	return nil
}

func (s *GormUserStore) ExistsWithRole(ctx context.Context, role models.Role) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// translateError maps unique violations from either Postgres driver onto
// DuplicateError.
func translateError(err error) error {
	constraint, ok := UniqueViolation(err)
	if !ok {
		return err
	}

	switch {
	case strings.Contains(constraint, "national_id"):
		return &DuplicateError{Field: "nationalId"}
	case strings.Contains(constraint, "mobile"):
		return &DuplicateError{Field: "mobile"}
	default:
		return &DuplicateError{Field: constraint}
	}
}

// UniqueViolation reports whether err is a Postgres unique violation from
// either pgx or lib/pq, returning the violated constraint.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return pgErr.ConstraintName, true
	case errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation:
		return pqErr.Constraint, true
	default:
		return "", false
	}
}
