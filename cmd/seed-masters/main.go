// Command seed-masters loads the reference data: disaster types with their
// required documents and the district, block and panchayat hierarchy. Rows
// that already exist are left untouched, so it is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/config"
	"github.com/example/reliefportal/internal/database"
	"github.com/example/reliefportal/internal/logger"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/store"
)

type blockSeed struct {
	Name       string
	Panchayats []string
}

type districtSeed struct {
	Name   string
	Blocks []blockSeed
}

var disasterTypes = []models.DisasterType{
	{
		Name:        "Flood",
		NameHindi:   "बाढ़",
		Description: "Loss due to heavy rainfall and flood",
		RequiredDocuments: []models.RequiredDocument{
			{Label: "Panchnama", LabelHindi: "पंचनामा", IsMandatory: true},
			{Label: "Bank Passbook", LabelHindi: "बैंक पासबुक", IsMandatory: true},
			{Label: "Photo of Loss", LabelHindi: "क्षति का फोटो", IsMandatory: true},
		},
	},
	{
		Name:        "Fire",
		NameHindi:   "आग",
		Description: "Loss due to accidental fire",
		RequiredDocuments: []models.RequiredDocument{
			{Label: "Fire Brigade Report", LabelHindi: "दमकल रिपोर्ट"},
			{Label: "Panchnama", LabelHindi: "पंचनामा", IsMandatory: true},
		},
	},
	{
		Name:        "Lightning",
		NameHindi:   "आकाशीय बिजली",
		Description: "Loss due to lightning strike",
		RequiredDocuments: []models.RequiredDocument{
			{Label: "Post Mortem Report (if applicable)", LabelHindi: "पीएम रिपोर्ट"},
			{Label: "Panchnama", LabelHindi: "पंचनामा", IsMandatory: true},
		},
	},
}

var geography = districtSeed{
	Name: "Jabalpur",
	Blocks: []blockSeed{
		{Name: "Jabalpur", Panchayats: []string{"Panchayat A", "Panchayat B", "Panchayat C"}},
		{Name: "Panagar", Panchayats: []string{"Panchayat D", "Panchayat E"}},
		{Name: "Sihora", Panchayats: []string{"Panchayat F", "Panchayat G"}},
	},
}

// report counts rows written and rows that were already present.
type report struct {
	Created int
	Skipped int
}

func (r *report) record(err error) (bool, error) {
	var dup *store.DuplicateError
	switch {
	case err == nil:
		r.Created++
		return true, nil
	case errors.As(err, &dup):
		r.Skipped++
		return false, nil
	default:
		return false, err
	}
}

// listLimit bounds the lookups used to resolve an existing district.
const listLimit = 1000

func seedMasters(ctx context.Context, masters store.MasterStore, types []models.DisasterType, geo districtSeed) (report, error) {
	var r report

	for _, dt := range types {
		row := dt
		row.IsActive = true
		if _, err := r.record(masters.CreateDisasterType(ctx, &row)); err != nil {
			return r, fmt.Errorf("disaster type %q: %w", dt.Name, err)
		}
	}

	district := &models.District{Name: geo.Name, IsActive: true}
	created, err := r.record(masters.CreateDistrict(ctx, district))
	if err != nil {
		return r, fmt.Errorf("district %q: %w", geo.Name, err)
	}
	if !created {
		if district, err = findDistrict(ctx, masters, geo.Name); err != nil {
			return r, err
		}
	}

	for _, bs := range geo.Blocks {
		block := &models.Block{Name: bs.Name, DistrictID: district.ID, IsActive: true}
		created, err := r.record(masters.CreateBlock(ctx, block))
		if err != nil {
			return r, fmt.Errorf("block %q: %w", bs.Name, err)
		}
		if !created {
			if block, err = findBlock(ctx, masters, district.ID, bs.Name); err != nil {
				return r, err
			}
		}

		for _, name := range bs.Panchayats {
			p := &models.Panchayat{Name: name, BlockID: block.ID, IsActive: true}
			if _, err := r.record(masters.CreatePanchayat(ctx, p)); err != nil {
				return r, fmt.Errorf("panchayat %q: %w", name, err)
			}
		}
	}
	return r, nil
}

func findDistrict(ctx context.Context, masters store.MasterStore, name string) (*models.District, error) {
	districts, _, err := masters.ListDistricts(ctx, store.Page{Limit: listLimit})
	if err != nil {
		return nil, fmt.Errorf("list districts: %w", err)
	}
	for i := range districts {
		if districts[i].Name == name {
			return &districts[i], nil
		}
	}
	return nil, fmt.Errorf("district %q exists but is inactive", name)
}

func findBlock(ctx context.Context, masters store.MasterStore, districtID uuid.UUID, name string) (*models.Block, error) {
	blocks, err := masters.ListBlocks(ctx, districtID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	for i := range blocks {
		if blocks[i].Name == name {
			return &blocks[i], nil
		}
	}
	return nil, fmt.Errorf("block %q exists but is inactive", name)
}

func main() {
	cfg := config.Read()

	zl, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: !cfg.IsProduction()})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.Connect(database.Options{DSN: cfg.DatabaseURL}, zl)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r, err := seedMasters(ctx, store.NewGormMasterStore(db), disasterTypes, geography)
	if err != nil {
		zl.Fatal("seed failed", zap.Error(err), zap.Int("created", r.Created))
	}
	zl.Info("master data seeded", zap.Int("created", r.Created), zap.Int("skipped", r.Skipped))
}
