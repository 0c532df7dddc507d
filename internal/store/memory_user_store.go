package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/models"
)

// MemoryUserStore keeps users in process memory. It enforces the same
// uniqueness rules as the database schema and hands out copies so callers
// cannot mutate stored records without Save.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User

	// FailWrites, when set, is returned by every mutating call.
	FailWrites error
}

// NewMemoryUserStore constructs an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uuid.UUID]models.User)}
}

func (s *MemoryUserStore) FindByMobile(_ context.Context, mobile string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Mobile == mobile })
}

func (s *MemoryUserStore) FindByNationalID(_ context.Context, nationalID string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.NationalID == nationalID })
}

func (s *MemoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (s *MemoryUserStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(&u) {
			return clone(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *clone(*user)
	return nil
}

func (s *MemoryUserStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = *clone(*user)
	return nil
}

func (s *MemoryUserStore) SetRefreshToken(_ context.Context, id uuid.UUID, token *string, lastLogin *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = copyString(token)
	if lastLogin != nil {
		t := *lastLogin
		u.LastLogin = &t
	}
	u.UpdatedAt = time.Now()
	s.users[id] = u
	return nil
}

func (s *MemoryUserStore) RotateRefreshToken(_ context.Context, id uuid.UUID, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	u, ok := s.users[id]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != current {
		return ErrStaleToken
	}
	u.RefreshToken = &next
	u.UpdatedAt = time.Now()
	s.users[id] = u
	return nil
}

func (s *MemoryUserStore) ExistsWithRole(_ context.Context, role models.Role) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Role == role {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryUserStore) checkUnique(user *models.User) error {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if u.Mobile == user.Mobile {
			return &DuplicateError{Field: "mobile"}
		}
		if u.NationalID == user.NationalID {
			return &DuplicateError{Field: "nationalId"}
		}
	}
	return nil
}

func clone(u models.User) *models.User {
	u.RefreshToken = copyString(u.RefreshToken)
	u.Email = copyString(u.Email)
	if u.DepartmentType != nil {
		d := *u.DepartmentType
		u.DepartmentType = &d
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		u.LastLogin = &t
	}
	if u.AuthorizedDisasterTypes != nil {
		u.AuthorizedDisasterTypes = append([]string(nil), u.AuthorizedDisasterTypes...)
	}
	return &u
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
