package service

import (
	"errors"
	"fmt"
	"time"
)

// Service-level error taxonomy. Handlers map these to HTTP status codes; the
// messages on the credential-shaped errors are deliberately generic so the
// response never confirms whether an account or secret exists.
var (
	ErrValidation         = errors.New("invalid input")
	ErrDuplicateAccount   = errors.New("email or username already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidTOTPCode    = errors.New("invalid verification code")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenKindMismatch  = errors.New("wrong token kind for this operation")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTwoFactorEnabled   = errors.New("two-factor authentication already enabled")
	ErrRateLimited        = errors.New("too many attempts")
	ErrInternal           = errors.New("internal error")
)

// ValidationError carries which field failed and why. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitedError is ErrRateLimited plus the retry hint the guard produced.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
