package auth

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/models"
)

var (
	mobilePattern     = regexp.MustCompile(`^[6-9]\d{9}$`)
	nationalIDPattern = regexp.MustCompile(`^\d{12}$`)
	emailPattern      = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

const (
	minPasswordLength = 6
	// bcrypt refuses longer inputs.
	maxPasswordBytes = 72
	maxNameLength    = 100
)

// IsMobile reports whether s is a ten digit Indian mobile number.
func IsMobile(s string) bool { return mobilePattern.MatchString(s) }

// IsNationalID reports whether s is a twelve digit national ID.
func IsNationalID(s string) bool { return nationalIDPattern.MatchString(s) }

// RegisterInput carries the fields accepted by both registration paths.
type RegisterInput struct {
	Name                    string
	Mobile                  string
	NationalID              string
	Email                   string
	Password                string
	Role                    string
	DepartmentType          string
	AuthorizedDisasterTypes []string
	OTP                     string
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.OTP = strings.TrimSpace(in.OTP)
}

// validate checks field formats and the role/department pairing and returns
// the parsed role.
func (in *RegisterInput) validate() (models.Role, *models.DepartmentType, error) {
	switch {
	case in.Name == "":
		return "", nil, apperr.BadRequest("Name is required.")
	case len([]rune(in.Name)) > maxNameLength:
		return "", nil, apperr.BadRequest("Name cannot exceed 100 characters.")
	case in.Mobile == "":
		return "", nil, apperr.BadRequest("Mobile number is required.")
	case !IsMobile(in.Mobile):
		return "", nil, apperr.BadRequest("Please enter a valid 10-digit Indian mobile number.")
	case in.NationalID == "":
		return "", nil, apperr.BadRequest("National ID is required.")
	case !IsNationalID(in.NationalID):
		return "", nil, apperr.BadRequest("National ID must be a 12-digit number.")
	case in.Email != "" && !emailPattern.MatchString(in.Email):
		return "", nil, apperr.BadRequest("Please enter a valid email.")
	case in.Password == "":
		return "", nil, apperr.BadRequest("Password is required.")
	case len(in.Password) < minPasswordLength:
		return "", nil, apperr.BadRequest("Password must be at least 6 characters.")
	case len(in.Password) > maxPasswordBytes:
		return "", nil, apperr.BadRequest("Password cannot exceed 72 bytes.")
	}

	role, err := models.ParseRole(in.Role)
	if err != nil {
		return "", nil, apperr.BadRequest("Role must be one of: admin, department, public.")
	}

	var dept *models.DepartmentType
	if role == models.RoleDepartment {
		if in.DepartmentType == "" {
			return "", nil, apperr.BadRequest("Department type is required for departmental users.")
		}
		d := models.DepartmentType(in.DepartmentType)
		if !d.Valid() {
			return "", nil, apperr.BadRequest("Invalid department type.")
		}
		dept = &d
	} else if in.DepartmentType != "" {
		return "", nil, apperr.BadRequest("Department type is only allowed for departmental users.")
	}

	for _, id := range in.AuthorizedDisasterTypes {
		if _, err := uuid.Parse(id); err != nil {
			return "", nil, apperr.BadRequest("authorizedDisasterTypes must contain disaster type ids.")
		}
	}

	return role, dept, nil
}

func validateNewPassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.BadRequest("New password must be at least 6 characters.")
	}
	if len(password) > maxPasswordBytes {
		return apperr.BadRequest("New password cannot exceed 72 bytes.")
	}
	return nil
}
