package otp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/models"
)

// MemoryStore keeps challenges in process memory. Suitable for a single
// instance in development and for tests.
type MemoryStore struct {
	mu         sync.Mutex
	challenges []models.OTPChallenge
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(_ context.Context, c *models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt

	// Earlier live challenges for the same mobile and purpose are superseded;
	// anything that can no longer verify is evicted.
	kept := s.challenges[:0]
	for _, prev := range s.challenges {
		if prev.Mobile == c.Mobile && prev.Purpose == c.Purpose {
			continue
		}
		if prev.Live(c.CreatedAt) {
			kept = append(kept, prev)
		}
	}
	s.challenges = kept
	s.challenges = append(s.challenges, *c)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, mobile string, purpose Purpose, now time.Time) (*models.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.challenges) - 1; i >= 0; i-- {
		c := s.challenges[i]
		if c.Mobile == mobile && c.Purpose == string(purpose) && c.Live(now) {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkUsed(_ context.Context, c *models.OTPChallenge, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.challenges {
		stored := &s.challenges[i]
		if stored.ID != c.ID {
			continue
		}
		if !stored.Live(now) {
			return ErrNotFound
		}
		stored.Used = true
		stored.UsedAt = &now
		stored.UpdatedAt = now
		c.Used, c.UsedAt = true, stored.UsedAt
		return nil
	}
	return ErrNotFound
}
