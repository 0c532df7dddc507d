package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/otp"
	"github.com/example/reliefportal/internal/store"
	"github.com/example/reliefportal/internal/token"
	"github.com/example/reliefportal/internal/utils"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time         { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	svc    *Service
	users  *store.MemoryUserStore
	tokens *token.Service
	clock  *clock
	hasher utils.Hasher
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"445566"}
	}
	c := &clock{now: time.Now()}
	hasher := utils.BcryptHasher{Cost: bcrypt.MinCost}

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		ResetTTL:      10 * time.Minute,
	}, token.WithClock(c.Now))
	require.NoError(t, err)

	i := 0
	engine := otp.NewLocalEngine(otp.NewMemoryStore(), hasher, 10*time.Minute, nil,
		otp.WithLocalClock(c.Now),
		otp.WithCodeGenerator(func() (string, error) {
			code := codes[i%len(codes)]
			i++
			return code, nil
		}),
	)

	users := store.NewMemoryUserStore()
	svc := NewService(Deps{
		Users:     users,
		Tokens:    tokens,
		OTP:       engine,
		Passwords: hasher,
		Now:       c.Now,
	})
	return &fixture{svc: svc, users: users, tokens: tokens, clock: c, hasher: hasher}
}

func publicInput() RegisterInput {
	return RegisterInput{
		Name:       "Asha Devi",
		Mobile:     "9876543210",
		NationalID: "123456789012",
		Password:   "secret1",
		OTP:        "445566",
	}
}

func (f *fixture) register(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.svc.SendOTP(ctx, "9876543210", "register")
	require.NoError(t, err)
	sess, err := f.svc.RegisterPublic(ctx, publicInput())
	require.NoError(t, err)
	return sess
}

func (f *fixture) seed(t *testing.T, role models.Role, mobile, nationalID, password string, active bool) *models.User {
	t.Helper()
	digest, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u := &models.User{
		Name:         "Seeded",
		Mobile:       mobile,
		NationalID:   nationalID,
		PasswordHash: digest,
		Role:         role,
		IsActive:     active,
	}
	if role == models.RoleDepartment {
		d := models.DepartmentPolice
		u.DepartmentType = &d
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func assertAppErr(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	assert.Equal(t, status, e.Status, e.Message)
	if code != "" {
		assert.Equal(t, code, e.Code)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess := f.register(t)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, models.RolePublic, sess.User.Role)
	assert.True(t, sess.User.IsActive)

	stored, err := f.users.FindByMobile(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, sess.RefreshToken, *stored.RefreshToken)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	for _, id := range []string{"9876543210", "123456789012"} {
		login, err := f.svc.Login(ctx, id, "secret1")
		require.NoError(t, err, id)
		assert.Equal(t, stored.ID, login.User.ID)
	}

	_, err = f.svc.Login(ctx, "9876543210", "wrong-pass")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeInvalidCredentials)
	_, err = f.svc.Login(ctx, "9123456789", "secret1")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeInvalidCredentials)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]func(*RegisterInput){
		"missing otp":      func(in *RegisterInput) { in.OTP = "" },
		"bad mobile":       func(in *RegisterInput) { in.Mobile = "5876543210" },
		"bad national id":  func(in *RegisterInput) { in.NationalID = "1234" },
		"short password":   func(in *RegisterInput) { in.Password = "abc" },
		"bad email":        func(in *RegisterInput) { in.Email = "not-an-email" },
		"dept on public":   func(in *RegisterInput) { in.DepartmentType = "police" },
		"unknown role":     func(in *RegisterInput) { in.Role = "root" },
		"bad disaster ids": func(in *RegisterInput) { in.AuthorizedDisasterTypes = []string{"flood"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := publicInput()
			mutate(&in)
			_, err := f.svc.RegisterPublic(ctx, in)
			assertAppErr(t, err, http.StatusBadRequest, "")
		})
	}

	in := publicInput()
	in.Role = "admin"
	_, err := f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusForbidden, "")
}

func TestRegister_OTPRequiredAndSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.RegisterPublic(ctx, publicInput())
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeOTPNotFound)

	_, _, err = f.svc.SendOTP(ctx, "9876543210", "register")
	require.NoError(t, err)

	in := publicInput()
	in.OTP = "000000"
	_, err = f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeOTPMismatch)

	_, err = f.svc.RegisterPublic(ctx, publicInput())
	require.NoError(t, err)

	// Challenges are bound to the mobile they were sent to.
	in = publicInput()
	in.Mobile, in.NationalID = "9123456789", "999988887777"
	_, err = f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeOTPNotFound)
}

func TestRegister_DuplicateNamesField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t)

	in := publicInput()
	in.NationalID = "999988887777"
	_, err := f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, "")
	assert.Contains(t, err.Error(), "mobile number")

	in = publicInput()
	in.Mobile = "9123456789"
	_, err = f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, "")
	assert.Contains(t, err.Error(), "national ID")
}

func TestRegister_PersistenceFailureReturnsNoToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.SendOTP(ctx, "9876543210", "register")
	require.NoError(t, err)

	f.users.FailWrites = errors.New("disk full")
	sess, err := f.svc.RegisterPublic(ctx, publicInput())
	assert.Nil(t, sess)
	assertAppErr(t, err, http.StatusInternalServerError, "")
}

type failingHasher struct{ utils.Hasher }

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hash unavailable") }

func TestRegister_OverlongPasswordKeepsOTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.SendOTP(ctx, "9876543210", "register")
	require.NoError(t, err)

	in := publicInput()
	in.Password = strings.Repeat("p", 80)
	_, err = f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, "")
	assert.Contains(t, err.Error(), "72 bytes")

	// Multi-byte runes count by byte.
	in.Password = strings.Repeat("अ", 25)
	_, err = f.svc.RegisterPublic(ctx, in)
	assertAppErr(t, err, http.StatusBadRequest, "")

	sess, err := f.svc.RegisterPublic(ctx, publicInput())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
}

func TestRegister_HashFailureKeepsOTP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.SendOTP(ctx, "9876543210", "register")
	require.NoError(t, err)

	f.svc.passwords = failingHasher{f.hasher}
	_, err = f.svc.RegisterPublic(ctx, publicInput())
	assertAppErr(t, err, http.StatusInternalServerError, "")

	f.svc.passwords = f.hasher
	_, err = f.svc.RegisterPublic(ctx, publicInput())
	require.NoError(t, err)
}

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.seed(t, models.RoleAdmin, "9999999999", "999999999999", "admin123", true)

	in := RegisterInput{
		Name:                    "Thana Officer",
		Mobile:                  "9811111111",
		NationalID:              "111122223333",
		Password:                "officer1",
		Role:                    "department",
		DepartmentType:          "thana",
		AuthorizedDisasterTypes: []string{uuid.NewString()},
	}
	user, err := f.svc.CreateAccount(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDepartment, user.Role)
	require.NotNil(t, user.DepartmentType)
	assert.Equal(t, models.DepartmentThana, *user.DepartmentType)
	assert.Len(t, user.AuthorizedDisasterTypes, 1)
	assert.False(t, user.HasRefreshToken(), "created accounts are not logged in")

	_, err = f.svc.Login(ctx, "9811111111", "officer1")
	require.NoError(t, err)

	missingDept := in
	missingDept.Mobile, missingDept.NationalID, missingDept.DepartmentType = "9822222222", "444455556666", ""
	_, err = f.svc.CreateAccount(ctx, admin, missingDept)
	assertAppErr(t, err, http.StatusBadRequest, "")

	public := in
	public.Mobile, public.NationalID, public.Role, public.DepartmentType = "9833333333", "777788889999", "public", ""
	_, err = f.svc.CreateAccount(ctx, admin, public)
	assertAppErr(t, err, http.StatusBadRequest, "")

	dept := f.seed(t, models.RoleDepartment, "9844444444", "121212121212", "dept123", true)
	_, err = f.svc.CreateAccount(ctx, dept, in)
	assertAppErr(t, err, http.StatusForbidden, "")
}

func TestLogin_Deactivated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, models.RolePublic, "9876543210", "123456789012", "secret1", false)

	_, err := f.svc.Login(ctx, "9876543210", "secret1")
	assertAppErr(t, err, http.StatusForbidden, apperr.CodeAccountDeactivated)

	_, err = f.svc.Login(ctx, "9876543210", "wrong-pass")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeInvalidCredentials)
}

func TestLogin_BadIdentifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "abc", "secret1")
	assertAppErr(t, err, http.StatusBadRequest, "")
	_, err = f.svc.Login(context.Background(), "", "")
	assertAppErr(t, err, http.StatusBadRequest, "")
}

func TestRefresh_Rotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.register(t)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	third, err := f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.AccessToken)
}

func TestRefresh_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Refresh(ctx, "")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeNoToken)

	_, err = f.svc.Refresh(ctx, "garbage")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	sess := f.register(t)
	// An access token is not a refresh token.
	_, err = f.svc.Refresh(ctx, sess.AccessToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenExpired)
}

func TestRefresh_Deactivated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.register(t)

	u, err := f.users.FindByID(ctx, sess.User.ID)
	require.NoError(t, err)
	u.IsActive = false
	require.NoError(t, f.users.Save(ctx, u))

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assertAppErr(t, err, http.StatusForbidden, apperr.CodeAccountDeactivated)
}

func TestLogout_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.register(t)

	require.NoError(t, f.svc.Logout(ctx, sess.User.ID))
	require.NoError(t, f.svc.Logout(ctx, sess.User.ID))

	_, err := f.svc.Refresh(ctx, sess.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	f.users.FailWrites = errors.New("db down")
	err = f.svc.Logout(ctx, sess.User.ID)
	assertAppErr(t, err, http.StatusInternalServerError, "")
}

func TestSendOTP_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.svc.SendOTP(ctx, "123", "reset")
	assertAppErr(t, err, http.StatusBadRequest, "")
	_, _, err = f.svc.SendOTP(ctx, "9876543210", "login")
	assertAppErr(t, err, http.StatusBadRequest, "")

	_, _, err = f.svc.SendOTP(ctx, "9876543210", "")
	assertAppErr(t, err, http.StatusNotFound, "")

	f.register(t)
	_, _, err = f.svc.SendOTP(ctx, "9876543210", "register")
	assertAppErr(t, err, http.StatusBadRequest, "")

	purpose, d, err := f.svc.SendOTP(ctx, "9876543210", "")
	require.NoError(t, err)
	assert.Equal(t, otp.PurposeReset, purpose)
	assert.Equal(t, "local", d.Provider)
}

type failingEngine struct{}

func (failingEngine) Name() string { return "twilio" }
func (failingEngine) Send(context.Context, string, otp.Purpose) (*otp.Dispatch, error) {
	return nil, errors.Join(otp.ErrDelivery, errors.New("Invalid parameter: To"))
}
func (failingEngine) Verify(context.Context, string, otp.Purpose, string) error {
	return otp.ErrDelivery
}

func TestSendOTP_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.otp = failingEngine{}

	_, _, err := f.svc.SendOTP(context.Background(), "9876543210", "register")
	assertAppErr(t, err, http.StatusInternalServerError, apperr.CodeUpstream)
	assert.Contains(t, err.Error(), "Invalid parameter: To")
}

func TestPasswordReset_Flow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "445566", "778899")
	sess := f.register(t)

	_, _, err := f.svc.SendOTP(ctx, "9876543210", "reset")
	require.NoError(t, err)

	_, err = f.svc.VerifyResetOTP(ctx, "9876543210", "000000")
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeOTPMismatch)

	resetToken, err := f.svc.VerifyResetOTP(ctx, "9876543210", "778899")
	require.NoError(t, err)

	_, err = f.svc.VerifyResetOTP(ctx, "9876543210", "778899")
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeOTPNotFound)

	// A reset token never authenticates requests.
	_, err = f.svc.Authenticate(ctx, resetToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	require.NoError(t, f.svc.ResetPassword(ctx, resetToken, "newpass1"))

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	_, err = f.svc.Login(ctx, "9876543210", "secret1")
	assertAppErr(t, err, http.StatusUnauthorized, "")
	_, err = f.svc.Login(ctx, "9876543210", "newpass1")
	require.NoError(t, err)
}

func TestPasswordReset_TokenChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.register(t)

	err := f.svc.ResetPassword(ctx, sess.AccessToken, "newpass1")
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeTokenInvalid)

	err = f.svc.ResetPassword(ctx, "x", "abc")
	assertAppErr(t, err, http.StatusBadRequest, "")

	err = f.svc.ResetPassword(ctx, "x", strings.Repeat("p", 80))
	assertAppErr(t, err, http.StatusBadRequest, "")

	resetToken, err := f.tokens.IssueReset(sess.User.ID)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)
	err = f.svc.ResetPassword(ctx, resetToken, "newpass1")
	assertAppErr(t, err, http.StatusBadRequest, apperr.CodeTokenExpired)

	ghost, err := f.tokens.IssueReset(uuid.New())
	require.NoError(t, err)
	err = f.svc.ResetPassword(ctx, ghost, "newpass1")
	assertAppErr(t, err, http.StatusNotFound, "")
}

func TestVerifyResetOTP_UnknownMobile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyResetOTP(context.Background(), "9876543210", "445566")
	assertAppErr(t, err, http.StatusNotFound, "")
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.register(t)

	_, err := f.svc.ChangePassword(ctx, old.User.ID, "secret1", "secret1")
	assertAppErr(t, err, http.StatusBadRequest, "")

	_, err = f.svc.ChangePassword(ctx, old.User.ID, "wrong-pass", "newpass1")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeInvalidCredentials)

	_, err = f.svc.ChangePassword(ctx, old.User.ID, "secret1", strings.Repeat("p", 80))
	assertAppErr(t, err, http.StatusBadRequest, "")

	fresh, err := f.svc.ChangePassword(ctx, old.User.ID, "secret1", "newpass1")
	require.NoError(t, err)
	assert.NotEqual(t, old.RefreshToken, fresh.RefreshToken)

	_, err = f.svc.Refresh(ctx, old.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)
	_, err = f.svc.Refresh(ctx, fresh.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "9876543210", "newpass1")
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.register(t)

	u, err := f.svc.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, u.ID)

	_, err = f.svc.Authenticate(ctx, "")
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeNoToken)

	_, err = f.svc.Authenticate(ctx, sess.RefreshToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenInvalid)

	ghost, err := f.tokens.IssueAccess(&models.User{BaseModel: models.BaseModel{ID: uuid.New()}, Role: models.RolePublic})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, ghost)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeUserNotFound)

	stored, err := f.users.FindByID(ctx, sess.User.ID)
	require.NoError(t, err)
	stored.IsActive = false
	require.NoError(t, f.users.Save(ctx, stored))
	_, err = f.svc.Authenticate(ctx, sess.AccessToken)
	assertAppErr(t, err, http.StatusForbidden, apperr.CodeAccountDeactivated)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Authenticate(ctx, sess.AccessToken)
	assertAppErr(t, err, http.StatusUnauthorized, apperr.CodeTokenExpired)
}
