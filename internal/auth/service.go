// Package auth orchestrates registration, login, token refresh, OTP driven
// password reset and password change on top of the user store, the token
// service and the OTP engine.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/logger"
	"github.com/example/reliefportal/internal/metrics"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/otp"
	"github.com/example/reliefportal/internal/ratelimit"
	"github.com/example/reliefportal/internal/store"
	"github.com/example/reliefportal/internal/token"
	"github.com/example/reliefportal/internal/utils"
)

// Deps are the collaborators of Service. Limiter and Metrics may be nil.
type Deps struct {
	Users     store.UserStore
	Tokens    *token.Service
	OTP       otp.Engine
	Passwords utils.Hasher
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Now       func() time.Time
}

// Service implements the auth flows. Every method returns *apperr.Error for
// client-facing failures.
type Service struct {
	users     store.UserStore
	tokens    *token.Service
	otp       otp.Engine
	passwords utils.Hasher
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		users:     d.Users,
		tokens:    d.Tokens,
		otp:       d.OTP,
		passwords: d.Passwords,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
	}
}

// Session is the outcome of a successful authentication.
type Session struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
}

var (
	errInvalidCredentials = apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid credentials.")
	errDeactivated        = apperr.Forbidden(apperr.CodeAccountDeactivated, "Your account has been deactivated. Contact the administrator.")
)

// RegisterPublic self-registers a public applicant. The register OTP is
// consumed inline and the new user is logged in.
func (s *Service) RegisterPublic(ctx context.Context, in RegisterInput) (*Session, error) {
	in.normalize()
	role, _, err := in.validate()
	if err != nil {
		return nil, err
	}
	if role != models.RolePublic {
		return nil, apperr.Forbidden("", "Only Admin (Collector) can create departmental or admin users.")
	}
	if in.OTP == "" {
		return nil, apperr.BadRequest("OTP is required for registration.")
	}

	if err := s.ensureUnique(ctx, in.Mobile, in.NationalID); err != nil {
		return nil, err
	}

	// Hash before consuming the OTP so a hashing failure leaves the code usable.
	user, err := s.newUser(in, role, nil)
	if err != nil {
		return nil, err
	}

	if err := s.verifyOTP(ctx, in.Mobile, otp.PurposeRegister, in.OTP); err != nil {
		s.metrics.AuthEvent("register", "otp_rejected")
		return nil, err
	}

	// The id is fixed before insert so the refresh token lands in the same row.
	user.ID = uuid.New()
	sess, err := s.mint(user)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user.RefreshToken = &sess.RefreshToken
	user.LastLogin = &now

	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.createError(err)
	}

	s.metrics.AuthEvent("register", "success")
	s.log.Info("user registered", zap.String("userId", user.ID.String()), zap.String("mobile", logger.MaskMobile(user.Mobile)))
	return sess, nil
}

// CreateAccount lets an admin create admin or department accounts without an
// OTP. The new account is not logged in.
func (s *Service) CreateAccount(ctx context.Context, actor *models.User, in RegisterInput) (*models.User, error) {
	if actor == nil {
		return nil, apperr.Unauthorized("", "Authentication required.")
	}
	if actor.Role != models.RoleAdmin {
		return nil, apperr.Forbidden("", "Only Admin (Collector) can create departmental or admin users.")
	}

	in.normalize()
	role, dept, err := in.validate()
	if err != nil {
		return nil, err
	}
	if role == models.RolePublic {
		return nil, apperr.BadRequest("Public accounts register themselves with an OTP.")
	}

	if err := s.ensureUnique(ctx, in.Mobile, in.NationalID); err != nil {
		return nil, err
	}

	user, err := s.newUser(in, role, dept)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.createError(err)
	}

	s.metrics.AuthEvent("create_account", "success")
	s.log.Info("account created",
		zap.String("userId", user.ID.String()),
		zap.String("role", string(user.Role)),
		zap.String("createdBy", actor.ID.String()),
	)
	return user, nil
}

// Login authenticates by mobile or national ID, chosen by the identifier's
// format.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	if identifier == "" || password == "" {
		return nil, apperr.BadRequest("Please provide mobile/national ID number and password.")
	}

	var find func(context.Context, string) (*models.User, error)
	switch {
	case IsMobile(identifier):
		find = s.users.FindByMobile
	case IsNationalID(identifier):
		find = s.users.FindByNationalID
	default:
		return nil, apperr.BadRequest("Please enter a valid 10-digit mobile or 12-digit national ID number.")
	}

	if err := s.limiter.Check(ctx, ratelimit.ActionLogin, identifier); err != nil {
		s.metrics.AuthEvent("login", "rate_limited")
		return nil, s.rateLimited(ctx, ratelimit.ActionLogin, identifier, "Too many failed login attempts. Please try again later.")
	}

	user, err := find(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.loginFailed(ctx, identifier, "unknown identifier")
			return nil, errInvalidCredentials
		}
		return nil, apperr.Internal(err, "Login failed. Please try again.")
	}

	if !s.passwords.Verify(password, user.PasswordHash) {
		s.loginFailed(ctx, identifier, "wrong password")
		return nil, errInvalidCredentials
	}

	if !user.IsActive {
		s.metrics.AuthEvent("login", "deactivated")
		return nil, errDeactivated
	}

	s.limiter.Reset(ctx, ratelimit.ActionLogin, identifier)

	sess, err := s.mint(user)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.SetRefreshToken(ctx, user.ID, &sess.RefreshToken, &now); err != nil {
		return nil, apperr.Internal(err, "Login failed. Please try again.")
	}
	user.RefreshToken = &sess.RefreshToken
	user.LastLogin = &now

	s.metrics.AuthEvent("login", "success")
	return sess, nil
}

func (s *Service) loginFailed(ctx context.Context, identifier, reason string) {
	s.metrics.AuthEvent("login", "failure")
	s.log.Info("login rejected", zap.String("identifier", logger.MaskMobile(identifier)), zap.String("reason", reason))
	_ = s.limiter.Hit(ctx, ratelimit.ActionLogin, identifier)
}

// Logout drops the stored refresh token. Logging out twice is harmless.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetRefreshToken(ctx, userID, nil, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(err, "Logout failed.")
	}
	s.metrics.AuthEvent("logout", "success")
	return nil
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// be the one currently stored on the user; it is replaced atomically.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	if raw == "" {
		return nil, apperr.Unauthorized(apperr.CodeNoToken, "No refresh token found. Please login again.")
	}

	claims, err := s.tokens.VerifyRefresh(raw)
	if err != nil {
		s.metrics.AuthEvent("refresh", "rejected")
		if errors.Is(err, token.ErrExpired) {
			return nil, apperr.Unauthorized(apperr.CodeTokenExpired, "Refresh token expired. Please login again.")
		}
		return nil, errInvalidRefresh
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, errInvalidRefresh
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidRefresh
		}
		return nil, apperr.Internal(err, "Token refresh failed.")
	}
	if user.RefreshToken == nil || *user.RefreshToken != raw {
		s.metrics.AuthEvent("refresh", "reused")
		s.log.Warn("refresh token does not match stored token", zap.String("userId", user.ID.String()))
		return nil, errInvalidRefresh
	}
	if !user.IsActive {
		return nil, apperr.Forbidden(apperr.CodeAccountDeactivated, "Account deactivated.")
	}

	sess, err := s.mint(user)
	if err != nil {
		return nil, err
	}
	if err := s.users.RotateRefreshToken(ctx, user.ID, raw, sess.RefreshToken); err != nil {
		if errors.Is(err, store.ErrStaleToken) {
			s.metrics.AuthEvent("refresh", "race_lost")
			return nil, errInvalidRefresh
		}
		return nil, apperr.Internal(err, "Token refresh failed.")
	}
	user.RefreshToken = &sess.RefreshToken

	s.metrics.AuthEvent("refresh", "success")
	return sess, nil
}

var errInvalidRefresh = apperr.Unauthorized(apperr.CodeTokenInvalid, "Invalid refresh token. Please login again.")

// SendOTP issues a challenge for purpose. Register requires an unused
// mobile, reset an existing account.
func (s *Service) SendOTP(ctx context.Context, mobile, rawPurpose string) (otp.Purpose, *otp.Dispatch, error) {
	if !IsMobile(mobile) {
		return "", nil, apperr.BadRequest("Please provide a valid 10-digit mobile number.")
	}
	purpose, err := otp.ParsePurpose(rawPurpose)
	if err != nil {
		return "", nil, apperr.BadRequest("OTP type must be one of: register, reset.")
	}

	_, err = s.users.FindByMobile(ctx, mobile)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", nil, apperr.Internal(err, "Failed to send OTP.")
	}
	switch purpose {
	case otp.PurposeReset:
		if !exists {
			return "", nil, apperr.NotFound("No account found with this mobile number.")
		}
	case otp.PurposeRegister:
		if exists {
			return "", nil, apperr.BadRequest("An account already exists with this mobile number.")
		}
	}

	if err := s.limiter.Hit(ctx, ratelimit.ActionOTPSend, mobile); err != nil {
		s.metrics.OTPEvent(s.otp.Name(), "send", "rate_limited")
		return "", nil, s.rateLimited(ctx, ratelimit.ActionOTPSend, mobile, "Too many OTP requests. Please try again later.")
	}

	d, err := s.otp.Send(ctx, mobile, purpose)
	if err != nil {
		s.metrics.OTPEvent(s.otp.Name(), "send", "failure")
		if errors.Is(err, otp.ErrDelivery) {
			return "", nil, apperr.Upstream(err)
		}
		return "", nil, apperr.Internal(err, "Failed to send OTP.")
	}
	s.metrics.OTPEvent(s.otp.Name(), "send", "success")
	return purpose, d, nil
}

// VerifyResetOTP consumes a reset challenge and returns a reset token.
func (s *Service) VerifyResetOTP(ctx context.Context, mobile, code string) (string, error) {
	if mobile == "" || code == "" {
		return "", apperr.BadRequest("Mobile number and OTP are required.")
	}

	user, err := s.users.FindByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperr.NotFound("No account found with this mobile number.")
		}
		return "", apperr.Internal(err, "OTP verification failed.")
	}

	if err := s.verifyOTP(ctx, mobile, otp.PurposeReset, code); err != nil {
		return "", err
	}

	resetToken, err := s.tokens.IssueReset(user.ID)
	if err != nil {
		return "", apperr.Internal(err, "OTP verification failed.")
	}
	return resetToken, nil
}

// rateLimited builds the 429 for action, carrying the time left in the window.
func (s *Service) rateLimited(ctx context.Context, action ratelimit.Action, subject, message string) error {
	return apperr.TooManyRequests(message).WithRetryAfter(s.limiter.RetryAfter(ctx, action, subject))
}

// verifyOTP runs the engine check behind the verify limiter and maps engine
// errors to client errors.
func (s *Service) verifyOTP(ctx context.Context, mobile string, purpose otp.Purpose, code string) error {
	if err := s.limiter.Check(ctx, ratelimit.ActionOTPVerify, mobile); err != nil {
		s.metrics.OTPEvent(s.otp.Name(), "verify", "rate_limited")
		return s.rateLimited(ctx, ratelimit.ActionOTPVerify, mobile, "Too many incorrect OTP attempts. Please request a new OTP later.")
	}

	err := s.otp.Verify(ctx, mobile, purpose, code)
	switch {
	case err == nil:
		s.limiter.Reset(ctx, ratelimit.ActionOTPVerify, mobile)
		s.metrics.OTPEvent(s.otp.Name(), "verify", "success")
		return nil
	case errors.Is(err, otp.ErrNotFound):
		s.metrics.OTPEvent(s.otp.Name(), "verify", "not_found")
		return apperr.New(http.StatusBadRequest, apperr.CodeOTPNotFound, "Expired or invalid OTP. Please request a new one.")
	case errors.Is(err, otp.ErrMismatch):
		s.metrics.OTPEvent(s.otp.Name(), "verify", "mismatch")
		_ = s.limiter.Hit(ctx, ratelimit.ActionOTPVerify, mobile)
		return apperr.New(http.StatusBadRequest, apperr.CodeOTPMismatch, "Incorrect OTP.")
	case errors.Is(err, otp.ErrDelivery):
		s.metrics.OTPEvent(s.otp.Name(), "verify", "failure")
		return apperr.Upstream(err)
	default:
		return apperr.Internal(err, "OTP verification failed.")
	}
}

// ResetPassword sets a new password using a reset token and signs the user
// out everywhere.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" || newPassword == "" {
		return apperr.BadRequest("Reset token and new password are required.")
	}
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}

	claims, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		code := apperr.CodeTokenInvalid
		if errors.Is(err, token.ErrExpired) {
			code = apperr.CodeTokenExpired
		}
		return apperr.New(http.StatusBadRequest, code, "Invalid or expired reset token. Please start over.")
	}
	userID, err := claims.UserID()
	if err != nil {
		return apperr.New(http.StatusBadRequest, apperr.CodeTokenInvalid, "Invalid or expired reset token. Please start over.")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found.")
		}
		return apperr.Internal(err, "Password reset failed.")
	}

	digest, err := s.passwords.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err, "Password reset failed.")
	}
	user.PasswordHash = digest
	user.RefreshToken = nil
	if err := s.users.Save(ctx, user); err != nil {
		return apperr.Internal(err, "Password reset failed.")
	}

	s.metrics.AuthEvent("reset_password", "success")
	s.log.Info("password reset", zap.String("userId", user.ID.String()))
	return nil
}

// ChangePassword replaces the caller's password, revokes the old refresh
// token and returns a fresh pair for the current session.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) (*Session, error) {
	if current == "" || next == "" {
		return nil, apperr.BadRequest("Current password and new password are required.")
	}
	if err := validateNewPassword(next); err != nil {
		return nil, err
	}
	if current == next {
		return nil, apperr.BadRequest("New password must be different from current password.")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found.")
		}
		return nil, apperr.Internal(err, "Password change failed. Please try again.")
	}

	if !s.passwords.Verify(current, user.PasswordHash) {
		s.metrics.AuthEvent("change_password", "failure")
		return nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "Current password is incorrect.")
	}

	digest, err := s.passwords.Hash(next)
	if err != nil {
		return nil, apperr.Internal(err, "Password change failed. Please try again.")
	}
	sess, err := s.mint(user)
	if err != nil {
		return nil, err
	}

	// One write replaces the hash and swaps the old refresh token for the new one.
	user.PasswordHash = digest
	user.RefreshToken = &sess.RefreshToken
	if err := s.users.Save(ctx, user); err != nil {
		return nil, apperr.Internal(err, "Password change failed. Please try again.")
	}

	s.metrics.AuthEvent("change_password", "success")
	return sess, nil
}

// Authenticate resolves a bearer access token to an active user.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*models.User, error) {
	if bearer == "" {
		return nil, apperr.Unauthorized(apperr.CodeNoToken, "Access denied. No token provided.")
	}

	claims, err := s.tokens.VerifyAccess(bearer)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, apperr.Unauthorized(apperr.CodeTokenExpired, "Token expired. Please refresh your token.")
		}
		return nil, apperr.Unauthorized(apperr.CodeTokenInvalid, "Invalid token.")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeTokenInvalid, "Invalid token.")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.CodeUserNotFound, "User associated with this token no longer exists.")
		}
		return nil, apperr.Internal(err, "Authentication failed.")
	}
	if !user.IsActive {
		return nil, errDeactivated
	}
	return user, nil
}

// CurrentUser reloads a user by id, for profile reads.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found.")
		}
		return nil, apperr.Internal(err, "Failed to fetch profile.")
	}
	return user, nil
}

func (s *Service) ensureUnique(ctx context.Context, mobile, nationalID string) error {
	if _, err := s.users.FindByMobile(ctx, mobile); err == nil {
		return duplicate("mobile")
	} else if !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(err, "Registration failed. Please try again.")
	}
	if _, err := s.users.FindByNationalID(ctx, nationalID); err == nil {
		return duplicate("nationalId")
	} else if !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(err, "Registration failed. Please try again.")
	}
	return nil
}

func (s *Service) createError(err error) error {
	var dup *store.DuplicateError
	if errors.As(err, &dup) {
		return duplicate(dup.Field)
	}
	return apperr.Internal(err, "Registration failed. Please try again.")
}

func duplicate(field string) error {
	label := "mobile number"
	if field == "nationalId" {
		label = "national ID"
	}
	return apperr.BadRequest(fmt.Sprintf("A user with this %s already exists.", label))
}

func (s *Service) newUser(in RegisterInput, role models.Role, dept *models.DepartmentType) (*models.User, error) {
	digest, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err, "Registration failed. Please try again.")
	}
	u := &models.User{
		Name:                    in.Name,
		Mobile:                  in.Mobile,
		NationalID:              in.NationalID,
		PasswordHash:            digest,
		Role:                    role,
		DepartmentType:          dept,
		AuthorizedDisasterTypes: pq.StringArray(in.AuthorizedDisasterTypes),
		IsActive:                true,
	}
	if in.Email != "" {
		email := in.Email
		u.Email = &email
	}
	return u, nil
}

// mint issues an access and refresh pair. Callers persist the refresh token
// before returning the session.
func (s *Service) mint(user *models.User) (*Session, error) {
	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to issue tokens.")
	}
	refresh, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to issue tokens.")
	}
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}
