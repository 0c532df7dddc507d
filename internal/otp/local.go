package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/logger"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/utils"
)

const codeDigits = 6

// LocalEngine generates six digit codes, stores a bcrypt digest and logs the
// dispatch. It does not talk to an SMS gateway.
type LocalEngine struct {
	store      Store
	hasher     utils.Hasher
	ttl        time.Duration
	log        *zap.Logger
	now        func() time.Time
	generate   func() (string, error)
	exposeCode bool
}

// LocalOption customises a LocalEngine.
type LocalOption func(*LocalEngine)

// WithLocalClock overrides the time source.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(e *LocalEngine) { e.now = now }
}

// WithCodeGenerator overrides code generation, mainly for tests.
func WithCodeGenerator(gen func() (string, error)) LocalOption {
	return func(e *LocalEngine) { e.generate = gen }
}

// WithExposedCode makes Send return the plaintext code in Dispatch.DevCode.
// Never enable in production.
func WithExposedCode(expose bool) LocalOption {
	return func(e *LocalEngine) { e.exposeCode = expose }
}

// NewLocalEngine constructs a LocalEngine.
func NewLocalEngine(store Store, hasher utils.Hasher, ttl time.Duration, log *zap.Logger, opts ...LocalOption) *LocalEngine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &LocalEngine{
		store:    store,
		hasher:   hasher,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalEngine) Name() string { return "local" }

func (e *LocalEngine) Send(ctx context.Context, mobile string, purpose Purpose) (*Dispatch, error) {
	code, err := e.generate()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	digest, err := e.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	now := e.now()
	c := &models.OTPChallenge{
		Mobile:    mobile,
		Purpose:   string(purpose),
		CodeHash:  digest,
		ExpiresAt: now.Add(e.ttl),
	}
	c.CreatedAt = now
	if err := e.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	e.log.Info("otp dispatched",
		zap.String("mobile", logger.MaskMobile(mobile)),
		zap.String("purpose", string(purpose)),
		zap.Time("expiresAt", c.ExpiresAt),
	)

	d := &Dispatch{Provider: e.Name()}
	if e.exposeCode {
		d.DevCode = code
		e.log.Debug("otp code", zap.String("mobile", logger.MaskMobile(mobile)), zap.String("code", code))
	}
	return d, nil
}

func (e *LocalEngine) Verify(ctx context.Context, mobile string, purpose Purpose, code string) error {
	now := e.now()
	c, err := e.store.Latest(ctx, mobile, purpose, now)
	if err != nil {
		return err
	}

	if !e.hasher.Verify(code, c.CodeHash) {
		return ErrMismatch
	}

	if err := e.store.MarkUsed(ctx, c, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("consume otp: %w", err)
	}
	return nil
}

// GenerateCode returns a uniformly random six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
