// Package apperr carries HTTP-facing error classification from the domain
// layer to the single boundary error handler.
package apperr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Machine-readable codes clients are expected to branch on.
const (
	CodeNoToken            = "NO_TOKEN"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	CodeOTPNotFound        = "OTP_NOT_FOUND"
	CodeOTPMismatch        = "OTP_MISMATCH"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUpstream           = "UPSTREAM_ERROR"
)

// Error is an error with a status code and a client-safe message.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
	// RetryAfter, when positive, is sent as the Retry-After header.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without an underlying cause.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Wrap attaches cause to a new Error, recording a stack trace for non-production output.
func Wrap(cause error, status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: errors.WithStack(cause)}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "", message)
}

func Unauthorized(code, message string) *Error {
	return New(http.StatusUnauthorized, code, message)
}

func Forbidden(code, message string) *Error {
	return New(http.StatusForbidden, code, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "", message)
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, message)
}

// WithRetryAfter sets how long the client should wait before retrying.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Internal hides cause from the client behind message.
func Internal(cause error, message string) *Error {
	return Wrap(cause, http.StatusInternalServerError, "", message)
}

// Upstream reports an external provider failure. The provider's own error text
// is exposed for operators; callers must make sure it carries no credentials.
func Upstream(cause error) *Error {
	return Wrap(cause, http.StatusInternalServerError, CodeUpstream, cause.Error())
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StackTrace renders err with any recorded stack frames. For an *Error the
// wrapped cause is rendered, since that is where the stack was captured.
func StackTrace(err error) string {
	if e, ok := As(err); ok && e.Err != nil {
		return fmt.Sprintf("%+v", e.Err)
	}
	return fmt.Sprintf("%+v", err)
}
