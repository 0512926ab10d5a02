package models

import (
	"errors"
	"fmt"
	"time"
)

// ==============================================
// CUSTOM ERROR TYPES
// ==============================================

// CooldownError is returned when a code for the same (user, purpose) was
// issued too recently. It matches ErrOTPResendCooldown with errors.Is.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting another OTP", e.WaitSeconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrOTPResendCooldown
}

// WaitSeconds rounds up so the client never retries a second too early.
func (e *CooldownError) WaitSeconds() int {
	secs := int(e.Wait / time.Second)
	if e.Wait%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ==============================================
// PREDEFINED ERRORS
// ==============================================

// Validation Errors
var (
	ErrInvalidPurpose = errors.New("invalid OTP purpose")
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrWeakPassword   = errors.New("password too weak")
)

// User/Auth Errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrEmailAlreadyExists = errors.New("email already registered")
)

// OTP Errors
var (
	// ErrOTPInvalid never says which precondition failed.
	ErrOTPInvalid        = errors.New("invalid or expired code")
	ErrOTPResendCooldown = errors.New("please wait before requesting another OTP")
	ErrOTPLocked         = errors.New("too many failed attempts, please try again later")
	ErrOTPDelivery       = errors.New("failed to send OTP")
)

// Session Errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ==============================================
// ERROR CODES (for API responses)
// ==============================================
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountInactive    = "ACCOUNT_INACTIVE"
	ErrCodeUserExists         = "USER_EXISTS"

	ErrCodeOTPInvalid  = "OTP_INVALID"
	ErrCodeOTPCooldown = "OTP_COOLDOWN"
	ErrCodeOTPLocked   = "OTP_LOCKED"
	ErrCodeOTPDelivery = "OTP_DELIVERY_FAILED"

	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// ==============================================
// HELPER FUNCTIONS
// ==============================================

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidPurpose) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrWeakPassword)
}
