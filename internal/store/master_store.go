package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/reliefportal/internal/models"
)

// ErrParentNotFound is returned when a block or panchayat references a
// district or block that does not exist.
var ErrParentNotFound = errors.New("parent not found")

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// MasterStore holds the reference data: disaster types and the district,
// block and panchayat hierarchy. List calls return active rows ordered by name.
type MasterStore interface {
	ListDisasterTypes(ctx context.Context, page Page) ([]models.DisasterType, int64, error)
	CreateDisasterType(ctx context.Context, d *models.DisasterType) error
	ListDistricts(ctx context.Context, page Page) ([]models.District, int64, error)
	CreateDistrict(ctx context.Context, d *models.District) error
	ListBlocks(ctx context.Context, districtID uuid.UUID) ([]models.Block, error)
	CreateBlock(ctx context.Context, b *models.Block) error
	ListPanchayats(ctx context.Context, blockID uuid.UUID) ([]models.Panchayat, error)
	CreatePanchayat(ctx context.Context, p *models.Panchayat) error
}

// GormMasterStore is the GORM backed MasterStore.
type GormMasterStore struct {
	db *gorm.DB
}

// NewGormMasterStore constructs a GormMasterStore.
func NewGormMasterStore(db *gorm.DB) *GormMasterStore {
	return &GormMasterStore{db: db}
}

func (s *GormMasterStore) ListDisasterTypes(ctx context.Context, page Page) ([]models.DisasterType, int64, error) {
	var out []models.DisasterType
	total, err := s.list(ctx, &models.DisasterType{}, &out, page)
	return out, total, err
}

func (s *GormMasterStore) CreateDisasterType(ctx context.Context, d *models.DisasterType) error {
	return s.create(ctx, d)
}

func (s *GormMasterStore) ListDistricts(ctx context.Context, page Page) ([]models.District, int64, error) {
	var out []models.District
	total, err := s.list(ctx, &models.District{}, &out, page)
	return out, total, err
}

func (s *GormMasterStore) CreateDistrict(ctx context.Context, d *models.District) error {
	return s.create(ctx, d)
}

func (s *GormMasterStore) ListBlocks(ctx context.Context, districtID uuid.UUID) ([]models.Block, error) {
	var out []models.Block
	err := s.db.WithContext(ctx).
		Where("district_id = ? AND is_active = ?", districtID, true).
		Order("name asc").
		Find(&out).Error
	return out, err
}

func (s *GormMasterStore) CreateBlock(ctx context.Context, b *models.Block) error {
	if err := s.exists(ctx, &models.District{}, b.DistrictID); err != nil {
		return err
	}
	return s.create(ctx, b)
}

func (s *GormMasterStore) ListPanchayats(ctx context.Context, blockID uuid.UUID) ([]models.Panchayat, error) {
	var out []models.Panchayat
	err := s.db.WithContext(ctx).
		Where("block_id = ? AND is_active = ?", blockID, true).
		Order("name asc").
		Find(&out).Error
	return out, err
}

func (s *GormMasterStore) CreatePanchayat(ctx context.Context, p *models.Panchayat) error {
	if err := s.exists(ctx, &models.Block{}, p.BlockID); err != nil {
		return err
	}
	return s.create(ctx, p)
}

func (s *GormMasterStore) list(ctx context.Context, model, dest interface{}, page Page) (int64, error) {
	active := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(model).Where("is_active = ?", true)
	}

	var total int64
	if err := active().Count(&total).Error; err != nil {
		return 0, err
	}
	if err := active().Order("name asc").Limit(page.Limit).Offset(page.Offset).Find(dest).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *GormMasterStore) exists(ctx context.Context, model interface{}, id uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrParentNotFound
	}
	return nil
}

func (s *GormMasterStore) create(ctx context.Context, value interface{}) error {
	if err := s.db.WithContext(ctx).Create(value).Error; err != nil {
		if _, ok := UniqueViolation(err); ok {
			return &DuplicateError{Field: "name"}
		}
		return err
	}
	return nil
}
