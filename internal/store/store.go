// Package store is the credential store contract used by the auth subsystem,
// with a GORM/Postgres implementation and an in-memory one.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/models"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrStaleToken is returned when a refresh token rotation loses to a newer one.
	ErrStaleToken = errors.New("refresh token superseded")
)

// DuplicateError reports a unique constraint violation on Field
// ("mobile" or "nationalId").
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// UserStore is the durable record store for users.
type UserStore interface {
	FindByMobile(ctx context.Context, mobile string) (*models.User, error)
	FindByNationalID(ctx context.Context, nationalID string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Save(ctx context.Context, user *models.User) error

	// SetRefreshToken overwrites (or clears, when token is nil) the stored
	// refresh token and, when lastLogin is non-nil, the last login time.
	SetRefreshToken(ctx context.Context, id uuid.UUID, token *string, lastLogin *time.Time) error
	// RotateRefreshToken replaces current with next only if current is still
	// the stored value, returning ErrStaleToken otherwise.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) error
	// ExistsWithRole reports whether any user holds role.
	ExistsWithRole(ctx context.Context, role models.Role) (bool, error)
}
