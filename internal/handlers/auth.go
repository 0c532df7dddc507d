package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/auth"
	"github.com/example/reliefportal/internal/middleware"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/session"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	auth    *auth.Service
	session *session.Transport
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *auth.Service, transport *session.Transport) *AuthHandler {
	return &AuthHandler{auth: svc, session: transport}
}

var errInvalidBody = apperr.BadRequest("Invalid request body.")

type registerRequest struct {
	Name                    string   `json:"name"`
	Mobile                  string   `json:"mobile"`
	NationalID              string   `json:"nationalId"`
	Email                   string   `json:"email"`
	Password                string   `json:"password"`
	Role                    string   `json:"role"`
	DepartmentType          string   `json:"departmentType"`
	AuthorizedDisasterTypes []string `json:"authorizedDisasterTypes"`
	OTP                     string   `json:"otp"`
}

func (r registerRequest) input() auth.RegisterInput {
	return auth.RegisterInput{
		Name:                    r.Name,
		Mobile:                  r.Mobile,
		NationalID:              r.NationalID,
		Email:                   r.Email,
		Password:                r.Password,
		Role:                    r.Role,
		DepartmentType:          r.DepartmentType,
		AuthorizedDisasterTypes: r.AuthorizedDisasterTypes,
		OTP:                     r.OTP,
	}
}

type sessionData struct {
	User        *models.User `json:"user,omitempty"`
	AccessToken string       `json:"accessToken"`
}

// Register self-registers a public applicant and logs them in.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	sess, err := h.auth.RegisterPublic(c.UserContext(), req.input())
	if err != nil {
		return err
	}

	h.session.Set(c, sess.RefreshToken)
	return ok(c, fiber.StatusCreated, "Registration successful.", sessionData{User: sess.User, AccessToken: sess.AccessToken})
}

// RegisterUser lets an admin create admin or department accounts.
func (h *AuthHandler) RegisterUser(c *fiber.Ctx) error {
	actor, _ := middleware.CurrentUser(c)

	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	user, err := h.auth.CreateAccount(c.UserContext(), actor, req.input())
	if err != nil {
		return err
	}

	return ok(c, fiber.StatusCreated, fmt.Sprintf("%s user created successfully.", user.Role), fiber.Map{"user": user})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Login authenticates with a mobile number or national ID and a password.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	sess, err := h.auth.Login(c.UserContext(), req.Identifier, req.Password)
	if err != nil {
		return err
	}

	h.session.Set(c, sess.RefreshToken)
	return ok(c, fiber.StatusOK, "Login successful.", sessionData{User: sess.User, AccessToken: sess.AccessToken})
}

// Logout clears the cookie and the stored refresh token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.session.Clear(c)

	user, found := middleware.CurrentUser(c)
	if !found {
		return apperr.Unauthorized(apperr.CodeNoToken, "Access denied. No token provided.")
	}
	if err := h.auth.Logout(c.UserContext(), user.ID); err != nil {
		return err
	}

	return ok(c, fiber.StatusOK, "Logged out successfully.", nil)
}

// Refresh rotates the refresh cookie and returns a new access token. Any
// failure clears the cookie.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	sess, err := h.auth.Refresh(c.UserContext(), h.session.Read(c))
	if err != nil {
		h.session.Clear(c)
		return err
	}

	h.session.Set(c, sess.RefreshToken)
	return ok(c, fiber.StatusOK, "Token refreshed.", sessionData{AccessToken: sess.AccessToken})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, found := middleware.CurrentUser(c)
	if !found {
		return apperr.Unauthorized(apperr.CodeNoToken, "Access denied. No token provided.")
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"user": user})
}

type sendOTPRequest struct {
	Mobile string `json:"mobile"`
	Type   string `json:"type"`
}

// SendOTP issues a register or reset OTP.
func (h *AuthHandler) SendOTP(c *fiber.Ctx) error {
	var req sendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	purpose, dispatch, err := h.auth.SendOTP(c.UserContext(), req.Mobile, req.Type)
	if err != nil {
		return err
	}

	data := fiber.Map{"provider": dispatch.Provider}
	if dispatch.DevCode != "" {
		data["devOTP"] = dispatch.DevCode
	}
	return ok(c, fiber.StatusOK, fmt.Sprintf("OTP sent successfully for %s.", purpose), data)
}

type verifyOTPRequest struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

// VerifyOTP consumes a reset OTP and returns a reset token.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	resetToken, err := h.auth.VerifyResetOTP(c.UserContext(), req.Mobile, req.OTP)
	if err != nil {
		return err
	}

	return ok(c, fiber.StatusOK, "OTP verified successfully.", fiber.Map{"resetToken": resetToken})
}

type resetPasswordRequest struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword sets a new password using a reset token.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	if err := h.auth.ResetPassword(c.UserContext(), req.ResetToken, req.NewPassword); err != nil {
		return err
	}

	return ok(c, fiber.StatusOK, "Password reset successful. Please login with your new password.", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword replaces the caller's password and rotates their session.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user, found := middleware.CurrentUser(c)
	if !found {
		return apperr.Unauthorized(apperr.CodeNoToken, "Access denied. No token provided.")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	sess, err := h.auth.ChangePassword(c.UserContext(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}

	h.session.Set(c, sess.RefreshToken)
	return ok(c, fiber.StatusOK, "Password changed successfully.", sessionData{AccessToken: sess.AccessToken})
}
