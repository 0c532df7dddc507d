// Package token issues and verifies the access, refresh and password-reset
// JWTs. No other package signs or parses token payloads.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/reliefportal/internal/models"
)

// PurposePasswordReset is the purpose claim carried by reset tokens.
const PurposePasswordReset = "password_reset"

var (
	// ErrExpired means the token was well formed and correctly signed but is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Config holds key material and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	Issuer        string
}

// Claims is the payload shared by all three token classes.
type Claims struct {
	Role    models.Role `json:"role,omitempty"`
	Purpose string      `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Service signs and verifies tokens.
type Service struct {
	cfg Config
	now func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ResetTTL <= 0 {
		return nil, errors.New("token: lifetimes must be positive")
	}

	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RefreshTTL is the refresh token lifetime, used for the session cookie max age.
func (s *Service) RefreshTTL() time.Duration {
	return s.cfg.RefreshTTL
}

// IssueAccess mints a short-lived access token carrying the user's role.
func (s *Service) IssueAccess(u *models.User) (string, error) {
	return s.sign(s.cfg.AccessSecret, Claims{
		Role:             u.Role,
		RegisteredClaims: s.registered(u.ID, s.cfg.AccessTTL),
	})
}

// IssueRefresh mints a long-lived refresh token signed with the refresh key.
func (s *Service) IssueRefresh(u *models.User) (string, error) {
	return s.sign(s.cfg.RefreshSecret, Claims{
		RegisteredClaims: s.registered(u.ID, s.cfg.RefreshTTL),
	})
}

// IssueReset mints a password-reset token. It shares the access key but is
// only accepted by VerifyReset.
func (s *Service) IssueReset(userID uuid.UUID) (string, error) {
	return s.sign(s.cfg.AccessSecret, Claims{
		Purpose:          PurposePasswordReset,
		RegisteredClaims: s.registered(userID, s.cfg.ResetTTL),
	})
}

// VerifyAccess checks an access token. Purpose-scoped tokens signed with the
// same key are rejected.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	claims, err := s.parse(s.cfg.AccessSecret, raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" || !claims.Role.Valid() {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyRefresh checks a refresh token's signature and expiry only; the
// caller must still compare it with the value stored on the user.
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	claims, err := s.parse(s.cfg.RefreshSecret, raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyReset accepts only tokens whose purpose claim is exactly password_reset.
func (s *Service) VerifyReset(raw string) (*Claims, error) {
	claims, err := s.parse(s.cfg.AccessSecret, raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposePasswordReset {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (s *Service) registered(subject uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject.String(),
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Service) sign(secret []byte, claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

func (s *Service) parse(secret []byte, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalid
	}
	return claims, nil
}
