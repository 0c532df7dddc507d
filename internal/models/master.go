package models

import "github.com/google/uuid"

// District is the top level of the administrative geography.
type District struct {
	BaseModel
	Name     string `gorm:"size:120;not null;uniqueIndex" json:"name"`
	IsActive bool   `gorm:"not null" json:"isActive"`
}

// Block belongs to a district; names are unique within a district.
type Block struct {
	BaseModel
	Name       string    `gorm:"size:120;not null;uniqueIndex:idx_block_district" json:"name"`
	DistrictID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_block_district" json:"districtId"`
	IsActive   bool      `gorm:"not null" json:"isActive"`
}

// Panchayat belongs to a block; names are unique within a block.
type Panchayat struct {
	BaseModel
	Name     string    `gorm:"size:120;not null;uniqueIndex:idx_panchayat_block" json:"name"`
	BlockID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_panchayat_block" json:"blockId"`
	IsActive bool      `gorm:"not null" json:"isActive"`
}

// RequiredDocument is a document an applicant must upload for a disaster type.
type RequiredDocument struct {
	Label       string `json:"label"`
	LabelHindi  string `json:"labelHindi"`
	IsMandatory bool   `json:"isMandatory"`
}

// DisasterType describes a category of disaster relief applications.
type DisasterType struct {
	BaseModel
	Name              string             `gorm:"size:120;not null;uniqueIndex" json:"name"`
	NameHindi         string             `gorm:"size:120;not null" json:"nameHindi"`
	Description       string             `json:"description"`
	RequiredDocuments []RequiredDocument `gorm:"serializer:json" json:"requiredDocuments"`
	IsActive          bool               `gorm:"not null;index" json:"isActive"`
}
