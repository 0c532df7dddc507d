package otp

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/example/reliefportal/internal/models"
)

// GormStore keeps challenges in the otp_challenges table. Expired rows are
// ignored by every query and removed opportunistically on Create.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, c *models.OTPChallenge) error {
	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at <= ?", now).Delete(&models.OTPChallenge{}).Error; err != nil {
			return err
		}

		// Supersede any earlier live challenge for the same mobile and purpose.
		if err := tx.Model(&models.OTPChallenge{}).
			Where("mobile = ? AND purpose = ? AND used = ? AND expires_at > ?", c.Mobile, c.Purpose, false, now).
			Update("expires_at", now).Error; err != nil {
			return err
		}

		return tx.Create(c).Error
	})
}

func (s *GormStore) Latest(ctx context.Context, mobile string, purpose Purpose, now time.Time) (*models.OTPChallenge, error) {
	var c models.OTPChallenge
	err := s.db.WithContext(ctx).
		Where("mobile = ? AND purpose = ? AND used = ? AND expires_at > ?", mobile, string(purpose), false, now).
		Order("created_at desc").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) MarkUsed(ctx context.Context, c *models.OTPChallenge, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.OTPChallenge{}).
		Where("id = ? AND used = ? AND expires_at > ?", c.ID, false, now).
		Updates(map[string]interface{}{"used": true, "used_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	c.Used = true
	c.UsedAt = &now
	return nil
}
