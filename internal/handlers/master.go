package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/store"
	"github.com/example/reliefportal/internal/utils"
)

const masterPageSize = 100

// MasterHandler serves reference data: disaster types and the district,
// block and panchayat hierarchy.
type MasterHandler struct {
	store store.MasterStore
}

// NewMasterHandler constructs MasterHandler.
func NewMasterHandler(s store.MasterStore) *MasterHandler {
	return &MasterHandler{store: s}
}

// ListDisasterTypes returns active disaster types.
func (h *MasterHandler) ListDisasterTypes(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c, masterPageSize)
	items, total, err := h.store.ListDisasterTypes(c.UserContext(), store.Page{Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return apperr.Internal(err, "Failed to load disaster types.")
	}
	return listed(c, items, pg, total)
}

type disasterTypeRequest struct {
	Name              string                    `json:"name"`
	NameHindi         string                    `json:"nameHindi"`
	Description       string                    `json:"description"`
	RequiredDocuments []models.RequiredDocument `json:"requiredDocuments"`
}

// CreateDisasterType adds a disaster type.
func (h *MasterHandler) CreateDisasterType(c *fiber.Ctx) error {
	var req disasterTypeRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	req.Name = strings.TrimSpace(req.Name)
	req.NameHindi = strings.TrimSpace(req.NameHindi)
	if req.Name == "" {
		return apperr.BadRequest("Disaster name in English is required.")
	}
	if req.NameHindi == "" {
		return apperr.BadRequest("Disaster name in Hindi is required.")
	}
	for _, doc := range req.RequiredDocuments {
		if doc.Label == "" || doc.LabelHindi == "" {
			return apperr.BadRequest("Required documents need a label and a Hindi label.")
		}
	}

	item := models.DisasterType{
		Name:              req.Name,
		NameHindi:         req.NameHindi,
		Description:       strings.TrimSpace(req.Description),
		RequiredDocuments: req.RequiredDocuments,
		IsActive:          true,
	}
	if err := h.store.CreateDisasterType(c.UserContext(), &item); err != nil {
		return createError(err, "disaster type")
	}
	return ok(c, fiber.StatusCreated, "Disaster type added successfully.", item)
}

// ListDistricts returns active districts.
func (h *MasterHandler) ListDistricts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c, masterPageSize)
	items, total, err := h.store.ListDistricts(c.UserContext(), store.Page{Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return apperr.Internal(err, "Failed to load districts.")
	}
	return listed(c, items, pg, total)
}

type nameRequest struct {
	Name       string `json:"name"`
	DistrictID string `json:"districtId"`
	BlockID    string `json:"blockId"`
}

// CreateDistrict adds a district.
func (h *MasterHandler) CreateDistrict(c *fiber.Ctx) error {
	var req nameRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperr.BadRequest("District name is required.")
	}

	item := models.District{Name: name, IsActive: true}
	if err := h.store.CreateDistrict(c.UserContext(), &item); err != nil {
		return createError(err, "district")
	}
	return ok(c, fiber.StatusCreated, "", item)
}

// ListBlocks returns the active blocks of a district.
func (h *MasterHandler) ListBlocks(c *fiber.Ctx) error {
	districtID, err := uuid.Parse(c.Params("districtId"))
	if err != nil {
		return apperr.BadRequest("Invalid district id.")
	}
	items, err := h.store.ListBlocks(c.UserContext(), districtID)
	if err != nil {
		return apperr.Internal(err, "Failed to load blocks.")
	}
	return ok(c, fiber.StatusOK, "", nonNil(items))
}

// CreateBlock adds a block to a district.
func (h *MasterHandler) CreateBlock(c *fiber.Ctx) error {
	var req nameRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperr.BadRequest("Block name is required.")
	}
	districtID, err := uuid.Parse(req.DistrictID)
	if err != nil {
		return apperr.BadRequest("District reference is required.")
	}

	item := models.Block{Name: name, DistrictID: districtID, IsActive: true}
	if err := h.store.CreateBlock(c.UserContext(), &item); err != nil {
		return createError(err, "block")
	}
	return ok(c, fiber.StatusCreated, "", item)
}

// ListPanchayats returns the active panchayats of a block.
func (h *MasterHandler) ListPanchayats(c *fiber.Ctx) error {
	blockID, err := uuid.Parse(c.Params("blockId"))
	if err != nil {
		return apperr.BadRequest("Invalid block id.")
	}
	items, err := h.store.ListPanchayats(c.UserContext(), blockID)
	if err != nil {
		return apperr.Internal(err, "Failed to load panchayats.")
	}
	return ok(c, fiber.StatusOK, "", nonNil(items))
}

// CreatePanchayat adds a panchayat to a block.
func (h *MasterHandler) CreatePanchayat(c *fiber.Ctx) error {
	var req nameRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperr.BadRequest("Panchayat name is required.")
	}
	blockID, err := uuid.Parse(req.BlockID)
	if err != nil {
		return apperr.BadRequest("Block reference is required.")
	}

	item := models.Panchayat{Name: name, BlockID: blockID, IsActive: true}
	if err := h.store.CreatePanchayat(c.UserContext(), &item); err != nil {
		return createError(err, "panchayat")
	}
	return ok(c, fiber.StatusCreated, "", item)
}

func listed[T any](c *fiber.Ctx, items []T, pg utils.Pagination, total int64) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    nonNil(items),
		"pagination": paginationMeta{
			CurrentPage:  pg.Page,
			ItemsPerPage: pg.Limit,
			TotalItems:   total,
		},
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func createError(err error, kind string) error {
	var dup *store.DuplicateError
	switch {
	case errors.As(err, &dup):
		return apperr.BadRequest("A " + kind + " with this name already exists.")
	case errors.Is(err, store.ErrParentNotFound):
		return apperr.BadRequest("Parent " + parentOf(kind) + " does not exist.")
	default:
		return apperr.Internal(err, "Failed to create "+kind+".")
	}
}

func parentOf(kind string) string {
	switch kind {
	case "block":
		return "district"
	case "panchayat":
		return "block"
	default:
		return "record"
	}
}
