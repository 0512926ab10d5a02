package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Brownie44l1/finvault/internal/auth"
	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/Brownie44l1/finvault/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ==============================================
// DEPENDENCIES
// ==============================================

type OTPStore interface {
	Issue(ctx context.Context, otp *models.OneTimeCode, minGap time.Duration) error
	Consume(ctx context.Context, userID uuid.UUID, code string, purpose models.Purpose, now time.Time) (*models.OneTimeCode, error)
	RecordFailedAttempt(ctx context.Context, userID uuid.UUID, purpose models.Purpose, maxAttempts int, now time.Time) (int, bool, error)
}

// FailureLimiter locks verification for a (user, purpose) after repeated failures.
type FailureLimiter interface {
	Locked(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error)
	RecordFailure(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error)
	Reset(ctx context.Context, userID uuid.UUID, purpose models.Purpose) error
}

type OTPMailer interface {
	SendOTP(ctx context.Context, email, code string, purpose models.Purpose) error
}

// ==============================================
// OTP SERVICE
// ==============================================

type OTPService struct {
	store    OTPStore
	limiter  FailureLimiter // nil disables the cross-code lockout
	mailer   OTPMailer
	log      *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPService(store OTPStore, limiter FailureLimiter, mailer OTPMailer, log *zap.Logger) *OTPService {
	return &OTPService{
		store:    store,
		limiter:  limiter,
		mailer:   mailer,
		log:      log,
		now:      time.Now,
		generate: auth.GenerateOTP,
	}
}

// ==============================================
// ISSUE
// ==============================================

// Issue mints a new code for (userID, purpose), invalidating any live one,
// and emails it. Every call mints a new code.
func (s *OTPService) Issue(ctx context.Context, userID uuid.UUID, email string, purpose models.Purpose) (*models.IssuedCode, error) {
	return s.issue(ctx, userID, email, purpose, 0)
}

// Resend is Issue guarded by the per-(user, purpose) cooldown. A rejected
// resend writes nothing and sends nothing.
func (s *OTPService) Resend(ctx context.Context, userID uuid.UUID, email string, purpose models.Purpose) (*models.IssuedCode, error) {
	return s.issue(ctx, userID, email, purpose, models.OTPResendCooldown)
}

func (s *OTPService) issue(ctx context.Context, userID uuid.UUID, email string, purpose models.Purpose, minGap time.Duration) (*models.IssuedCode, error) {
	if !purpose.Valid() {
		return nil, models.ErrInvalidPurpose
	}

	code, err := s.generate()
	if err != nil {
		return nil, err
	}

	// Postgres keeps microseconds; truncating keeps cooldown math exact.
	now := s.now().UTC().Truncate(time.Microsecond)
	otp := &models.OneTimeCode{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     models.NormalizeEmail(email),
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(models.OTPExpiry),
	}

	if err := s.store.Issue(ctx, otp, minGap); err != nil {
		var cooldown *models.CooldownError
		if errors.As(err, &cooldown) {
			s.log.Info("otp resend rejected by cooldown",
				zap.String("user_id", userID.String()),
				zap.String("purpose", string(purpose)),
				zap.Int("wait_seconds", cooldown.WaitSeconds()))
			return nil, cooldown
		}
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, otp.Email, code, purpose); err != nil {
		s.log.Error("otp delivery failed",
			zap.String("user_id", userID.String()),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrOTPDelivery, err)
	}

	s.log.Info("otp issued",
		zap.String("otp_id", otp.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("purpose", string(purpose)),
		zap.Time("expires_at", otp.ExpiresAt))

	return &models.IssuedCode{ID: otp.ID, Code: code, ExpiresAt: otp.ExpiresAt}, nil
}

// ==============================================
// VERIFY
// ==============================================

// Verify accepts code at most once. Every rejection is models.ErrOTPInvalid
// unless the key is locked, which is models.ErrOTPLocked.
func (s *OTPService) Verify(ctx context.Context, userID uuid.UUID, code string, purpose models.Purpose) error {
	if !purpose.Valid() {
		return models.ErrInvalidPurpose
	}
	code = strings.TrimSpace(code)

	if s.limiter != nil {
		locked, err := s.limiter.Locked(ctx, userID, purpose)
		if err != nil {
			// Fail open: a limiter outage must not block every login.
			s.log.Warn("otp failure limiter unavailable", zap.Error(err))
		} else if locked {
			return models.ErrOTPLocked
		}
	}

	now := s.now().UTC()
	otp, err := s.store.Consume(ctx, userID, code, purpose, now)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return s.recordFailure(ctx, userID, purpose, now)
		}
		return fmt.Errorf("failed to verify OTP: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, userID, purpose); err != nil {
			s.log.Warn("otp failure limiter reset failed", zap.Error(err))
		}
	}

	s.log.Info("otp verified",
		zap.String("otp_id", otp.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("purpose", string(purpose)))
	return nil
}

func (s *OTPService) recordFailure(ctx context.Context, userID uuid.UUID, purpose models.Purpose, now time.Time) error {
	attempts, burned, err := s.store.RecordFailedAttempt(ctx, userID, purpose, models.OTPMaxAttempts, now)
	if err != nil {
		return fmt.Errorf("failed to record OTP attempt: %w", err)
	}

	fields := []zap.Field{
		zap.String("user_id", userID.String()),
		zap.String("purpose", string(purpose)),
		zap.Int("attempts", attempts),
		zap.Bool("burned", burned),
	}

	// Only misses against a live code count toward the lockout.
	if s.limiter != nil && attempts > 0 {
		locked, err := s.limiter.RecordFailure(ctx, userID, purpose)
		if err != nil {
			s.log.Warn("otp failure limiter unavailable", zap.Error(err))
		}
		fields = append(fields, zap.Bool("locked", locked))
	}

	s.log.Info("otp rejected", fields...)
	return models.ErrOTPInvalid
}
