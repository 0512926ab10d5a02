package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FailureLimiter counts failed OTP verifications per (user, purpose) in a
// fixed window and locks the key for the rest of the window once the
// threshold is crossed.
type FailureLimiter struct {
	client      redis.UniversalClient
	window      time.Duration
	maxInWindow int64
}

func NewFailureLimiter(client redis.UniversalClient, window time.Duration, max int) *FailureLimiter {
	return &FailureLimiter{client: client, window: window, maxInWindow: int64(max)}
}

func NewRedisClient(addr, password string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func failureKey(userID uuid.UUID, purpose models.Purpose) string {
	return fmt.Sprintf("otp:fail:%s:%s", userID, purpose)
}

// Locked reports whether the key has reached the failure threshold.
func (l *FailureLimiter) Locked(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error) {
	n, err := l.client.Get(ctx, failureKey(userID, purpose)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read OTP failures: %w", err)
	}
	return n >= l.maxInWindow, nil
}

// RecordFailure increments the counter, starting the window on first use.
// It reports whether the key is now locked.
func (l *FailureLimiter) RecordFailure(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error) {
	key := failureKey(userID, purpose)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record OTP failure: %w", err)
	}
	return incr.Val() >= l.maxInWindow, nil
}

// Reset clears the counter after a successful verification.
func (l *FailureLimiter) Reset(ctx context.Context, userID uuid.UUID, purpose models.Purpose) error {
	if err := l.client.Del(ctx, failureKey(userID, purpose)).Err(); err != nil {
		return fmt.Errorf("failed to reset OTP failures: %w", err)
	}
	return nil
}
