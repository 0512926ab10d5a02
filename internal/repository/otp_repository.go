package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ==============================================
// ERRORS
// ==============================================

var (
	ErrOTPNotFound = errors.New("OTP not found")
)

// ==============================================
// OTP REPOSITORY
// ==============================================

type OTPRepository struct {
	db *pgxpool.Pool
}

func NewOTPRepository(db *pgxpool.Pool) *OTPRepository {
	return &OTPRepository{db: db}
}

const otpColumns = `id, user_id, email, code, purpose, consumed, consumed_at, attempts, created_at, expires_at`

func scanOTP(row pgx.Row) (*models.OneTimeCode, error) {
	var otp models.OneTimeCode
	err := row.Scan(
		&otp.ID,
		&otp.UserID,
		&otp.Email,
		&otp.Code,
		&otp.Purpose,
		&otp.Consumed,
		&otp.ConsumedAt,
		&otp.Attempts,
		&otp.CreatedAt,
		&otp.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

// ==============================================
// ISSUE
// ==============================================

// Issue invalidates every unconsumed code for (user, purpose) and inserts otp
// in one transaction. Concurrent issuers for the same key are serialized by a
// transaction-scoped advisory lock. When minGap is positive and the newest
// code for the key is younger than minGap, nothing is written and a
// *models.CooldownError is returned.
func (r *OTPRepository) Issue(ctx context.Context, otp *models.OneTimeCode, minGap time.Duration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := otp.UserID.String() + ":" + string(otp.Purpose)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("failed to lock OTP key: %w", err)
	}

	if minGap > 0 {
		var lastCreated time.Time
		err := tx.QueryRow(ctx, `
			SELECT created_at
			FROM one_time_codes
			WHERE user_id = $1 AND purpose = $2
			ORDER BY created_at DESC
			LIMIT 1
		`, otp.UserID, otp.Purpose).Scan(&lastCreated)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check resend eligibility: %w", err)
		default:
			if elapsed := otp.CreatedAt.Sub(lastCreated); elapsed < minGap {
				return &models.CooldownError{Wait: minGap - elapsed}
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE one_time_codes
		SET consumed = true, consumed_at = $3
		WHERE user_id = $1 AND purpose = $2 AND NOT consumed
	`, otp.UserID, otp.Purpose, otp.CreatedAt); err != nil {
		return fmt.Errorf("failed to invalidate previous OTPs: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO one_time_codes (id, user_id, email, code, purpose, consumed, attempts, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, false, 0, $6, $7)
	`, otp.ID, otp.UserID, otp.Email, otp.Code, otp.Purpose, otp.CreatedAt, otp.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create OTP: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit OTP: %w", err)
	}
	return nil
}

// ==============================================
// VERIFY
// ==============================================

// Consume atomically flips the newest live matching code to consumed and
// returns it. ErrOTPNotFound covers wrong, expired, exhausted and used codes.
func (r *OTPRepository) Consume(ctx context.Context, userID uuid.UUID, code string, purpose models.Purpose, now time.Time) (*models.OneTimeCode, error) {
	query := `
		UPDATE one_time_codes
		SET consumed = true, consumed_at = $5
		WHERE id = (
			SELECT id
			FROM one_time_codes
			WHERE user_id = $1 AND code = $2 AND purpose = $3
			  AND NOT consumed AND expires_at > $5 AND attempts < $4
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		AND NOT consumed
		RETURNING ` + otpColumns

	otp, err := scanOTP(r.db.QueryRow(ctx, query, userID, code, purpose, models.OTPMaxAttempts, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return otp, nil
}

// RecordFailedAttempt bumps the attempt counter on the live code for
// (user, purpose) and burns it once maxAttempts is reached. It reports the
// new count and whether the code was burned; no live code yields (0, false).
func (r *OTPRepository) RecordFailedAttempt(ctx context.Context, userID uuid.UUID, purpose models.Purpose, maxAttempts int, now time.Time) (int, bool, error) {
	query := `
		UPDATE one_time_codes
		SET attempts = attempts + 1,
		    consumed = (attempts + 1 >= $3),
		    consumed_at = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE consumed_at END
		WHERE user_id = $1 AND purpose = $2 AND NOT consumed AND expires_at > $4
		RETURNING attempts, consumed
	`

	var attempts int
	var burned bool
	err := r.db.QueryRow(ctx, query, userID, purpose, maxAttempts, now).Scan(&attempts, &burned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to record OTP attempt: %w", err)
	}
	return attempts, burned, nil
}

// ==============================================
// GET OTP
// ==============================================

func (r *OTPRepository) GetLatest(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (*models.OneTimeCode, error) {
	query := `
		SELECT ` + otpColumns + `
		FROM one_time_codes
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	otp, err := scanOTP(r.db.QueryRow(ctx, query, userID, purpose))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return otp, nil
}

// ==============================================
// CLEANUP
// ==============================================

func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired OTPs: %w", err)
	}
	return tag.RowsAffected(), nil
}
