package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// ==============================================
// TEST HELPERS
// ==============================================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sequentialCodes hands out 100001, 100002, ... so every issuance differs.
func sequentialCodes() func() (string, error) {
	var n int64 = 100000
	return func() (string, error) {
		return fmt.Sprintf("%06d", atomic.AddInt64(&n, 1)), nil
	}
}

type otpFixture struct {
	svc     *OTPService
	store   *memoryOTPStore
	mailer  *fakeMailer
	limiter *fakeLimiter
	clock   *testClock
}

func newOTPFixture(t *testing.T, limiter *fakeLimiter) *otpFixture {
	t.Helper()
	f := &otpFixture{
		store:   newMemoryOTPStore(),
		mailer:  &fakeMailer{},
		limiter: limiter,
		clock:   newTestClock(),
	}

	var l FailureLimiter
	if limiter != nil {
		l = limiter
	}
	f.svc = NewOTPService(f.store, l, f.mailer, zaptest.NewLogger(t))
	f.svc.now = f.clock.Now
	f.svc.generate = sequentialCodes()
	return f
}

// ==============================================
// ISSUE TESTS
// ==============================================

func TestIssue_LeavesAtMostOneLiveCode(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.LiveCount(userID, models.PurposeLogin, f.clock.Now()))
		f.clock.Advance(time.Second)
	}

	assert.Len(t, f.store.Records(userID, models.PurposeLogin), 5)
	assert.Equal(t, 5, f.mailer.Count())
}

func TestIssue_DoesNotTouchOtherPurposes(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	_, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.LiveCount(userID, models.PurposeSignup, f.clock.Now()))
	assert.Equal(t, 1, f.store.LiveCount(userID, models.PurposeLogin, f.clock.Now()))
}

func TestIssue_FixesExpiryAtCreation(t *testing.T) {
	f := newOTPFixture(t, nil)

	issued, err := f.svc.Issue(context.Background(), uuid.New(), "  A@X.com ", models.PurposeLogin)
	require.NoError(t, err)

	assert.Equal(t, f.clock.Now().Add(10*time.Minute), issued.ExpiresAt)
	assert.Equal(t, "a@x.com", f.mailer.Last().Email)
	assert.Equal(t, issued.Code, f.mailer.Last().Code)
}

func TestIssue_RejectsUnknownPurpose(t *testing.T) {
	f := newOTPFixture(t, nil)

	_, err := f.svc.Issue(context.Background(), uuid.New(), "a@x.com", models.Purpose("transfer"))

	assert.ErrorIs(t, err, models.ErrInvalidPurpose)
	assert.Equal(t, 0, f.store.issueCall)
	assert.Equal(t, 0, f.mailer.Count())
}

func TestIssue_DeliveryFailure(t *testing.T) {
	f := newOTPFixture(t, nil)
	f.mailer.Err = errSMTPDown

	_, err := f.svc.Issue(context.Background(), uuid.New(), "a@x.com", models.PurposeLogin)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOTPDelivery)
	assert.ErrorIs(t, err, errSMTPDown)
}

func TestIssue_StoreFailure(t *testing.T) {
	f := newOTPFixture(t, nil)
	f.store.IssueErr = errors.New("connection reset")

	_, err := f.svc.Issue(context.Background(), uuid.New(), "a@x.com", models.PurposeLogin)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store OTP")
	assert.Equal(t, 0, f.mailer.Count())
}

func TestIssue_DoesNotLogCode(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newOTPFixture(t, nil)
	f.svc.log = zap.New(core)

	issued, err := f.svc.Issue(context.Background(), uuid.New(), "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	entries := logs.FilterMessage("otp issued").All()
	require.Len(t, entries, 1)
	for _, v := range entries[0].ContextMap() {
		assert.NotEqual(t, issued.Code, v)
	}
}

// ==============================================
// RESEND TESTS
// ==============================================

func TestResend_CooldownRejectsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	_, err := f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)

	var cooldown *models.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.ErrorIs(t, err, models.ErrOTPResendCooldown)
	assert.Equal(t, 40, cooldown.WaitSeconds())
	assert.Len(t, f.store.Records(userID, models.PurposeLogin), 1)
	assert.Equal(t, 1, f.mailer.Count())
}

func TestResend_AllowedAfterCooldown(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	first, err := f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	f.clock.Advance(models.OTPResendCooldown)
	second, err := f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	assert.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, 2, f.mailer.Count())
	assert.Equal(t, 1, f.store.LiveCount(userID, models.PurposeLogin, f.clock.Now()))
}

func TestResend_CooldownCountsPlainIssue(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	_, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	_, err = f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)
	assert.ErrorIs(t, err, models.ErrOTPResendCooldown)
}

// ==============================================
// VERIFY TESTS
// ==============================================

func TestVerify_ExpiredCodeRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("just before expiry", func(t *testing.T) {
		f := newOTPFixture(t, nil)
		userID := uuid.New()
		issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
		require.NoError(t, err)

		f.clock.Advance(models.OTPExpiry - time.Second)
		assert.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin))
	})

	t.Run("at expiry", func(t *testing.T) {
		f := newOTPFixture(t, nil)
		userID := uuid.New()
		issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
		require.NoError(t, err)

		f.clock.Advance(models.OTPExpiry)
		assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPInvalid)
	})
}

func TestVerify_CodeAcceptedOnce(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	require.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin))
	assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPInvalid)

	records := f.store.Records(userID, models.PurposeLogin)
	require.Len(t, records, 1)
	assert.True(t, records[0].Consumed)
	require.NotNil(t, records[0].ConsumedAt)
}

func TestVerify_ConcurrentSubmissionsAcceptedOnce(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	const workers = 20
	var accepted int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin) == nil {
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), accepted)
}

func TestVerify_ConcurrentCorrectSubmitsDoNotLockKey(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, newFakeLimiter(models.OTPMaxFailures))
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	const workers = 20
	var accepted, rejected int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin)
			switch {
			case err == nil:
				atomic.AddInt64(&accepted, 1)
			case errors.Is(err, models.ErrOTPInvalid):
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), accepted)
	assert.Equal(t, int64(workers-1), rejected)

	locked, err := f.limiter.Locked(ctx, userID, models.PurposeLogin)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Zero(t, f.limiter.failures[limiterKey(userID, models.PurposeLogin)])

	f.clock.Advance(models.OTPResendCooldown + time.Second)
	fresh, err := f.svc.Resend(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)
	assert.NoError(t, f.svc.Verify(ctx, userID, fresh.Code, models.PurposeLogin))
}

func TestVerify_MissWithoutLiveCodeNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, newFakeLimiter(3))
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)
	require.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin))

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPInvalid)
	}

	locked, err := f.limiter.Locked(ctx, userID, models.PurposeLogin)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestVerify_TrimsWhitespace(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	assert.NoError(t, f.svc.Verify(ctx, userID, " \t"+issued.Code+"\n ", models.PurposeLogin))
}

func TestVerify_SupersededCodeRejected(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	r1, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(600*time.Second), r1.ExpiresAt)

	f.clock.Advance(time.Second)
	r2, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	records := f.store.Records(userID, models.PurposeLogin)
	require.Len(t, records, 2)
	assert.Equal(t, r2.ID, records[0].ID)
	assert.False(t, records[0].Consumed)
	assert.Equal(t, r1.ID, records[1].ID)
	assert.True(t, records[1].Consumed)

	assert.ErrorIs(t, f.svc.Verify(ctx, userID, r1.Code, models.PurposeLogin), models.ErrOTPInvalid)
	assert.NoError(t, f.svc.Verify(ctx, userID, r2.Code, models.PurposeLogin))

	records = f.store.Records(userID, models.PurposeLogin)
	assert.True(t, records[0].Consumed)
}

func TestVerify_WrongPurposeOrUserRejected(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeSignup)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPInvalid)
	assert.ErrorIs(t, f.svc.Verify(ctx, uuid.New(), issued.Code, models.PurposeSignup), models.ErrOTPInvalid)
	assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.Purpose("nope")), models.ErrInvalidPurpose)

	assert.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeSignup))
}

func TestVerify_AttemptLimitBurnsCode(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < models.OTPMaxAttempts; i++ {
		assert.ErrorIs(t, f.svc.Verify(ctx, userID, "000000", models.PurposeLogin), models.ErrOTPInvalid)
	}

	assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPInvalid)
	assert.Equal(t, 0, f.store.LiveCount(userID, models.PurposeLogin, f.clock.Now()))
}

func TestVerify_LockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, newFakeLimiter(3))
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.svc.Verify(ctx, userID, "000000", models.PurposeLogin), models.ErrOTPInvalid)
	}

	assert.ErrorIs(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin), models.ErrOTPLocked)

	// Lockout is per (user, purpose).
	other, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeSignup)
	require.NoError(t, err)
	assert.NoError(t, f.svc.Verify(ctx, userID, other.Code, models.PurposeSignup))
}

func TestVerify_SuccessResetsLimiter(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, newFakeLimiter(3))
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, f.svc.Verify(ctx, userID, "000000", models.PurposeLogin), models.ErrOTPInvalid)
	}
	require.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin))

	locked, err := f.limiter.Locked(ctx, userID, models.PurposeLogin)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Empty(t, f.limiter.failures)
}

func TestVerify_LimiterOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	limiter := newFakeLimiter(3)
	f := newOTPFixture(t, limiter)
	userID := uuid.New()

	issued, err := f.svc.Issue(ctx, userID, "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	limiter.Err = errors.New("redis: connection refused")
	assert.ErrorIs(t, f.svc.Verify(ctx, userID, "000000", models.PurposeLogin), models.ErrOTPInvalid)
	assert.NoError(t, f.svc.Verify(ctx, userID, issued.Code, models.PurposeLogin))
}

// ==============================================
// SWEEPER TESTS
// ==============================================

func TestSweeper_DeletesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, nil)

	_, err := f.svc.Issue(ctx, uuid.New(), "a@x.com", models.PurposeLogin)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)
	fresh := uuid.New()
	_, err = f.svc.Issue(ctx, fresh, "b@x.com", models.PurposeLogin)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	sweeper := NewSweeper(f.store, time.Minute, zaptest.NewLogger(t))
	sweeper.now = f.clock.Now

	assert.Equal(t, int64(1), sweeper.SweepOnce(ctx))
	assert.Equal(t, int64(0), sweeper.SweepOnce(ctx))
	assert.Len(t, f.store.Records(fresh, models.PurposeLogin), 1)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newOTPFixture(t, nil)
	_, err := f.svc.Issue(context.Background(), uuid.New(), "a@x.com", models.PurposeLogin)
	require.NoError(t, err)

	sweeper := NewSweeper(f.store, time.Hour, zaptest.NewLogger(t))
	sweeper.now = func() time.Time { return f.clock.Now().Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, f.storeEmpty, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func (f *otpFixture) storeEmpty() bool {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return len(f.store.codes) == 0
}
