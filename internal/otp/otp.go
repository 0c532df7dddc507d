// Package otp issues and checks one-time passcodes bound to a mobile number
// and a purpose. Deployments pick one Engine at startup: LocalEngine hashes
// and stores codes itself, TwilioEngine delegates to Twilio Verify.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/reliefportal/internal/models"
)

// Purpose scopes a challenge to the flow that requested it.
type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeReset    Purpose = "reset"
)

// ParsePurpose converts a raw value, defaulting to PurposeReset when empty.
func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(raw) {
	case "":
		return PurposeReset, nil
	case PurposeRegister, PurposeReset:
		return Purpose(raw), nil
	default:
		return "", fmt.Errorf("type must be one of: register, reset")
	}
}

var (
	// ErrNotFound means there is no live challenge: never sent, expired,
	// superseded or already used.
	ErrNotFound = errors.New("otp not found")
	// ErrMismatch means a live challenge exists but the code is wrong.
	ErrMismatch = errors.New("otp mismatch")
	// ErrDelivery wraps failures talking to the SMS provider.
	ErrDelivery = errors.New("otp delivery failed")
)

// Dispatch describes a sent challenge.
type Dispatch struct {
	Provider string
	// DevCode is the plaintext code, populated only by LocalEngine when
	// configured to expose codes outside production.
	DevCode string
}

// Engine sends and verifies challenges.
type Engine interface {
	Name() string
	Send(ctx context.Context, mobile string, purpose Purpose) (*Dispatch, error)
	// Verify succeeds at most once per challenge.
	Verify(ctx context.Context, mobile string, purpose Purpose, code string) error
}

// Store persists hashed challenges for LocalEngine.
type Store interface {
	// Create persists c and supersedes any earlier live challenge for the
	// same mobile and purpose.
	Create(ctx context.Context, c *models.OTPChallenge) error
	// Latest returns the newest live challenge at now, or ErrNotFound.
	Latest(ctx context.Context, mobile string, purpose Purpose, now time.Time) (*models.OTPChallenge, error)
	// MarkUsed flips c to used if it is still live at now. It returns
	// ErrNotFound when another caller consumed or superseded it first.
	MarkUsed(ctx context.Context, c *models.OTPChallenge, now time.Time) error
}
