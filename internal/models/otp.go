package models

import (
	"time"

	"github.com/google/uuid"
)

// ==============================================
// ONE-TIME CODE MODEL
// ==============================================

type OneTimeCode struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	Email      string     `db:"email"` // lowercased
	Code       string     `db:"code"`  // 6-digit OTP
	Purpose    Purpose    `db:"purpose"`
	Consumed   bool       `db:"consumed"`
	ConsumedAt *time.Time `db:"consumed_at"`
	Attempts   int        `db:"attempts"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
}

func (c *OneTimeCode) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsLiveAt reports whether the code can still be accepted at now.
func (c *OneTimeCode) IsLiveAt(now time.Time) bool {
	return !c.Consumed && !c.IsExpiredAt(now) && c.Attempts < OTPMaxAttempts
}

// ==============================================
// OTP PURPOSE
// ==============================================

type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeSignup        Purpose = "signup"
	PurposePasswordReset Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeSignup, PurposePasswordReset:
		return true
	}
	return false
}

// ParsePurpose defaults an empty value to login.
func ParsePurpose(s string) (Purpose, error) {
	if s == "" {
		return PurposeLogin, nil
	}
	p := Purpose(s)
	if !p.Valid() {
		return "", ErrInvalidPurpose
	}
	return p, nil
}

// ==============================================
// OTP CONFIGURATION
// ==============================================
const (
	OTPLength         = 6
	OTPExpiry         = 10 * time.Minute
	OTPMaxAttempts    = 5                // failed guesses before the live code is burned
	OTPResendCooldown = 60 * time.Second // between issuances for the same (user, purpose)
	OTPFailureWindow  = 15 * time.Minute
	OTPMaxFailures    = 10 // failed verifies per window before (user, purpose) is locked
)

// IssuedCode is what issuance hands back to the caller.
type IssuedCode struct {
	ID        uuid.UUID
	Code      string
	ExpiresAt time.Time
}
