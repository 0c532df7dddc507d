package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDepartment Role = "department"
	RolePublic     Role = "public"
)

// Roles lists every role in display order.
var Roles = []Role{RoleAdmin, RoleDepartment, RolePublic}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// ParseRole converts a raw string into a Role. An empty string yields RolePublic.
func ParseRole(raw string) (Role, error) {
	if raw == "" {
		return RolePublic, nil
	}
	r := Role(raw)
	if !r.Valid() {
		names := make([]string, len(Roles))
		for i, role := range Roles {
			names[i] = string(role)
		}
		return "", fmt.Errorf("role must be one of: %s", strings.Join(names, ", "))
	}
	return r, nil
}

// DepartmentType identifies the external department a department user belongs to.
type DepartmentType string

const (
	DepartmentPolice        DepartmentType = "police"
	DepartmentHospital      DepartmentType = "hospital"
	DepartmentGramPanchayat DepartmentType = "gram_panchayat"
	DepartmentAgriculture   DepartmentType = "agriculture"
	DepartmentRevenue       DepartmentType = "revenue"
	DepartmentPatwari       DepartmentType = "patwari"
	DepartmentThana         DepartmentType = "thana"
)

// Valid reports whether d is a known department.
func (d DepartmentType) Valid() bool {
	switch d {
	case DepartmentPolice, DepartmentHospital, DepartmentGramPanchayat,
		DepartmentAgriculture, DepartmentRevenue, DepartmentPatwari, DepartmentThana:
		return true
	default:
		return false
	}
}

// User is an authenticated principal of the portal.
type User struct {
	BaseModel
	Name                    string          `gorm:"size:100;not null" json:"name"`
	Mobile                  string          `gorm:"size:10;not null;uniqueIndex" json:"mobile"`
	NationalID              string          `gorm:"column:national_id;size:12;not null;uniqueIndex" json:"nationalId"`
	Email                   *string         `gorm:"size:255" json:"email,omitempty"`
	PasswordHash            string          `gorm:"not null" json:"-"`
	Role                    Role            `gorm:"size:20;not null;index" json:"role"`
	DepartmentType          *DepartmentType `gorm:"size:32;index" json:"departmentType,omitempty"`
	AuthorizedDisasterTypes pq.StringArray  `gorm:"type:text[]" json:"authorizedDisasterTypes"`
	IsActive                bool            `gorm:"not null;index" json:"isActive"`
	RefreshToken            *string         `json:"-"`
	LastLogin               *time.Time      `json:"lastLogin,omitempty"`
}

// HasRefreshToken reports whether a refresh token is currently bound to the user.
func (u *User) HasRefreshToken() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}
