package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/models"
)

// MemoryMasterStore keeps reference data in process memory with the same
// uniqueness and parent rules as the schema.
type MemoryMasterStore struct {
	mu            sync.RWMutex
	disasterTypes []models.DisasterType
	districts     []models.District
	blocks        []models.Block
	panchayats    []models.Panchayat
}

// NewMemoryMasterStore constructs an empty MemoryMasterStore.
func NewMemoryMasterStore() *MemoryMasterStore {
	return &MemoryMasterStore{}
}

func (s *MemoryMasterStore) ListDisasterTypes(_ context.Context, page Page) ([]models.DisasterType, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := activeSorted(s.disasterTypes, func(d models.DisasterType) (bool, string) { return d.IsActive, d.Name })
	return paginate(out, page), int64(len(out)), nil
}

func (s *MemoryMasterStore) CreateDisasterType(_ context.Context, d *models.DisasterType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.disasterTypes {
		if existing.Name == d.Name {
			return &DuplicateError{Field: "name"}
		}
	}
	stamp(&d.BaseModel)
	s.disasterTypes = append(s.disasterTypes, *d)
	return nil
}

func (s *MemoryMasterStore) ListDistricts(_ context.Context, page Page) ([]models.District, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := activeSorted(s.districts, func(d models.District) (bool, string) { return d.IsActive, d.Name })
	return paginate(out, page), int64(len(out)), nil
}

func (s *MemoryMasterStore) CreateDistrict(_ context.Context, d *models.District) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.districts {
		if existing.Name == d.Name {
			return &DuplicateError{Field: "name"}
		}
	}
	stamp(&d.BaseModel)
	s.districts = append(s.districts, *d)
	return nil
}

func (s *MemoryMasterStore) ListBlocks(_ context.Context, districtID uuid.UUID) ([]models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSorted(s.blocks, func(b models.Block) (bool, string) {
		return b.IsActive && b.DistrictID == districtID, b.Name
	}), nil
}

func (s *MemoryMasterStore) CreateBlock(_ context.Context, b *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, d := range s.districts {
		if d.ID == b.DistrictID {
			found = true
			break
		}
	}
	if !found {
		return ErrParentNotFound
	}
	for _, existing := range s.blocks {
		if existing.DistrictID == b.DistrictID && existing.Name == b.Name {
			return &DuplicateError{Field: "name"}
		}
	}
	stamp(&b.BaseModel)
	s.blocks = append(s.blocks, *b)
	return nil
}

func (s *MemoryMasterStore) ListPanchayats(_ context.Context, blockID uuid.UUID) ([]models.Panchayat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSorted(s.panchayats, func(p models.Panchayat) (bool, string) {
		return p.IsActive && p.BlockID == blockID, p.Name
	}), nil
}

func (s *MemoryMasterStore) CreatePanchayat(_ context.Context, p *models.Panchayat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, b := range s.blocks {
		if b.ID == p.BlockID {
			found = true
			break
		}
	}
	if !found {
		return ErrParentNotFound
	}
	for _, existing := range s.panchayats {
		if existing.BlockID == p.BlockID && existing.Name == p.Name {
			return &DuplicateError{Field: "name"}
		}
	}
	stamp(&p.BaseModel)
	s.panchayats = append(s.panchayats, *p)
	return nil
}

func stamp(b *models.BaseModel) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
}

// activeSorted copies the rows keep accepts, ordered by name.
func activeSorted[T any](rows []T, keep func(T) (bool, string)) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if ok, _ := keep(r); ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		_, a := keep(out[i])
		_, b := keep(out[j])
		return a < b
	})
	return out
}

func paginate[T any](rows []T, page Page) []T {
	if page.Offset >= len(rows) {
		return []T{}
	}
	rows = rows[page.Offset:]
	if page.Limit > 0 && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}
	return rows
}
