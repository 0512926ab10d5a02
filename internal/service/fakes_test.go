package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Brownie44l1/finvault/internal/mail"
	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/Brownie44l1/finvault/internal/repository"
	"github.com/google/uuid"
)

// ==============================================
// IN-MEMORY OTP STORE
// ==============================================

// memoryOTPStore mirrors OTPRepository: one mutex stands in for the
// advisory lock and the single-statement consume.
type memoryOTPStore struct {
	mu        sync.Mutex
	codes     []*models.OneTimeCode
	IssueErr  error
	issueCall int
}

func newMemoryOTPStore() *memoryOTPStore {
	return &memoryOTPStore{}
}

func (m *memoryOTPStore) Issue(ctx context.Context, otp *models.OneTimeCode, minGap time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issueCall++

	if m.IssueErr != nil {
		return m.IssueErr
	}

	if minGap > 0 {
		if latest := m.latest(otp.UserID, otp.Purpose); latest != nil {
			if elapsed := otp.CreatedAt.Sub(latest.CreatedAt); elapsed < minGap {
				return &models.CooldownError{Wait: minGap - elapsed}
			}
		}
	}

	for _, c := range m.codes {
		if c.UserID == otp.UserID && c.Purpose == otp.Purpose && !c.Consumed {
			c.Consumed = true
			at := otp.CreatedAt
			c.ConsumedAt = &at
		}
	}

	stored := *otp
	m.codes = append(m.codes, &stored)
	return nil
}

func (m *memoryOTPStore) Consume(ctx context.Context, userID uuid.UUID, code string, purpose models.Purpose, now time.Time) (*models.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := m.latestLive(userID, purpose, now)
	if latest == nil || latest.Code != code {
		return nil, repository.ErrOTPNotFound
	}
	latest.Consumed = true
	at := now
	latest.ConsumedAt = &at

	out := *latest
	return &out, nil
}

func (m *memoryOTPStore) RecordFailedAttempt(ctx context.Context, userID uuid.UUID, purpose models.Purpose, maxAttempts int, now time.Time) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := m.latestLive(userID, purpose, now)
	if latest == nil {
		return 0, false, nil
	}
	latest.Attempts++
	if latest.Attempts >= maxAttempts {
		latest.Consumed = true
		at := now
		latest.ConsumedAt = &at
		return latest.Attempts, true, nil
	}
	return latest.Attempts, false, nil
}

func (m *memoryOTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.codes[:0]
	var deleted int64
	for _, c := range m.codes {
		if c.IsExpiredAt(now) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	m.codes = kept
	return deleted, nil
}

func (m *memoryOTPStore) forKey(userID uuid.UUID, purpose models.Purpose) []*models.OneTimeCode {
	var out []*models.OneTimeCode
	for _, c := range m.codes {
		if c.UserID == userID && c.Purpose == purpose {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryOTPStore) latest(userID uuid.UUID, purpose models.Purpose) *models.OneTimeCode {
	codes := m.forKey(userID, purpose)
	if len(codes) == 0 {
		return nil
	}
	return codes[0]
}

func (m *memoryOTPStore) latestLive(userID uuid.UUID, purpose models.Purpose, now time.Time) *models.OneTimeCode {
	for _, c := range m.forKey(userID, purpose) {
		if c.IsLiveAt(now) {
			return c
		}
	}
	return nil
}

// Records returns copies, newest first.
func (m *memoryOTPStore) Records(userID uuid.UUID, purpose models.Purpose) []models.OneTimeCode {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.OneTimeCode
	for _, c := range m.forKey(userID, purpose) {
		out = append(out, *c)
	}
	return out
}

func (m *memoryOTPStore) LiveCount(userID uuid.UUID, purpose models.Purpose, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.forKey(userID, purpose) {
		if c.IsLiveAt(now) {
			n++
		}
	}
	return n
}

// ==============================================
// MAILER / SENDER / LIMITER FAKES
// ==============================================

type sentOTP struct {
	Email   string
	Code    string
	Purpose models.Purpose
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentOTP
	Err  error
}

func (f *fakeMailer) SendOTP(ctx context.Context, email, code string, purpose models.Purpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, sentOTP{Email: email, Code: code, Purpose: purpose})
	return nil
}

func (f *fakeMailer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMailer) Last() sentOTP {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentOTP{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeSender struct {
	messages []mail.Message
	Err      error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	if f.Err != nil {
		return f.Err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	failures map[string]int
	max      int
	Err      error
}

func newFakeLimiter(max int) *fakeLimiter {
	return &fakeLimiter{failures: make(map[string]int), max: max}
}

func limiterKey(userID uuid.UUID, purpose models.Purpose) string {
	return userID.String() + ":" + string(purpose)
}

func (f *fakeLimiter) Locked(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.failures[limiterKey(userID, purpose)] >= f.max, nil
}

func (f *fakeLimiter) RecordFailure(ctx context.Context, userID uuid.UUID, purpose models.Purpose) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	key := limiterKey(userID, purpose)
	f.failures[key]++
	return f.failures[key] >= f.max, nil
}

func (f *fakeLimiter) Reset(ctx context.Context, userID uuid.UUID, purpose models.Purpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	delete(f.failures, limiterKey(userID, purpose))
	return nil
}

// ==============================================
// MOCK USER STORE
// ==============================================

type MockUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User

	CreateUserFunc      func(ctx context.Context, user *models.User) error
	UpdatePasswordCalls int
	LastLogin           *time.Time
}

func newMockUserStore(users ...*models.User) *MockUserStore {
	m := &MockUserStore{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserStore) CreateUser(ctx context.Context, user *models.User) error {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrUserAlreadyExists
		}
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *MockUserStore) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *MockUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserStore) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return m.update(userID, func(u *models.User) {
		u.LastLoginAt = &at
		m.LastLogin = &at
	})
}

func (m *MockUserStore) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return m.update(userID, func(u *models.User) { u.IsEmailVerified = true })
}

func (m *MockUserStore) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return m.update(userID, func(u *models.User) {
		u.PasswordHash = passwordHash
		m.UpdatePasswordCalls++
	})
}

func (m *MockUserStore) update(userID uuid.UUID, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	return nil
}

var errSMTPDown = errors.New("smtp: connection refused")
