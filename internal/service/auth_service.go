package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Brownie44l1/finvault/internal/api/dto"
	"github.com/Brownie44l1/finvault/internal/auth"
	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/Brownie44l1/finvault/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ==============================================
// DEPENDENCIES
// ==============================================

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// ==============================================
// AUTH SERVICE
// ==============================================

type AuthService struct {
	users  UserStore
	otp    *OTPService
	tokens *auth.TokenIssuer
	log    *zap.Logger
	now    func() time.Time
}

func NewAuthService(users UserStore, otp *OTPService, tokens *auth.TokenIssuer, log *zap.Logger) *AuthService {
	return &AuthService{
		users:  users,
		otp:    otp,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

// ==============================================
// LOGIN (credentials -> otp -> token)
// ==============================================

// RequestLogin checks credentials and emails a login code. The returned
// user id must be echoed back to VerifyLoginOTP.
func (s *AuthService) RequestLogin(ctx context.Context, req dto.LoginRequest) (*dto.LoginRequestResponse, error) {
	// 1. Look up user; unknown email and wrong password look the same
	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// 2. Verify password
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, models.ErrInvalidCredentials
	}

	// 3. Check if account is active
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}

	// 4. Issue and send login OTP
	if _, err := s.otp.Issue(ctx, user.ID, user.Email, models.PurposeLogin); err != nil {
		return nil, err
	}

	return &dto.LoginRequestResponse{
		Success: true,
		UserID:  user.ID.String(),
		Email:   user.Email,
		Message: "Verification code sent to your email",
	}, nil
}

// VerifyLoginOTP completes login and mints a session token.
func (s *AuthService) VerifyLoginOTP(ctx context.Context, req dto.VerifyOTPRequest) (*dto.VerifyLoginOTPResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}

	// 1. Get user
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 2. Check if account is active
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}

	// 3. Verify OTP
	if err := s.otp.Verify(ctx, user.ID, string(req.OTP), models.PurposeLogin); err != nil {
		return nil, err
	}

	// 4. Update last login
	loginAt := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, loginAt); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	user.LastLoginAt = &loginAt

	// 5. Generate JWT token
	token, expiresIn, err := s.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID.String()))

	return &dto.VerifyLoginOTPResponse{
		Success:   true,
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: expiresIn,
		User:      user.ToPublic(),
	}, nil
}

// ==============================================
// RESEND OTP
// ==============================================

func (s *AuthService) ResendOTP(ctx context.Context, req dto.ResendOTPRequest) (*dto.ResendOTPResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}

	purpose, err := models.ParsePurpose(req.Purpose)
	if err != nil {
		return nil, err
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.otp.Resend(ctx, user.ID, user.Email, purpose); err != nil {
		return nil, err
	}

	return &dto.ResendOTPResponse{
		Success:   true,
		Message:   "Verification code sent to your email",
		ExpiresIn: int(models.OTPExpiry.Seconds()),
	}, nil
}

// ==============================================
// SIGNUP
// ==============================================

// Signup creates an unverified account and emails a signup code. A failed
// send does not undo the account; the client can resend.
func (s *AuthService) Signup(ctx context.Context, req dto.SignupRequest) (*dto.SignupResponse, error) {
	if len(req.Password) < auth.MinPasswordLength {
		return nil, models.ErrWeakPassword
	}

	// 1. Hash password
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 2. Create user
	user := &models.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(req.Name),
		Email:        models.NormalizeEmail(req.Email),
		PasswordHash: passwordHash,
		Role:         models.RoleMember,
		IsActive:     true,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, models.ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID.String()))

	// 3. Send email verification OTP
	message := "Account created. Please check your email for the verification code."
	if _, err := s.otp.Issue(ctx, user.ID, user.Email, models.PurposeSignup); err != nil {
		s.log.Warn("signup verification code not sent",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		message = "Account created, but we could not send the verification code. Please request a new one."
	}

	return &dto.SignupResponse{
		Success: true,
		UserID:  user.ID.String(),
		Email:   user.Email,
		Message: message,
	}, nil
}

func (s *AuthService) VerifySignupOTP(ctx context.Context, req dto.VerifyOTPRequest) (*dto.VerifySignupOTPResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, user.ID, string(req.OTP), models.PurposeSignup); err != nil {
		return nil, err
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to mark email as verified: %w", err)
	}

	return &dto.VerifySignupOTPResponse{
		Success: true,
		Message: "Email verified successfully",
	}, nil
}

// ==============================================
// PASSWORD RESET
// ==============================================

const forgotPasswordMessage = "If this email is registered, you'll receive a password reset code"

// ForgotPassword answers the same way whether or not the account exists.
// Cooldown and delivery failures are logged, never returned.
func (s *AuthService) ForgotPassword(ctx context.Context, req dto.ForgotPasswordRequest) (*dto.ForgotPasswordResponse, error) {
	resp := &dto.ForgotPasswordResponse{Success: true, Message: forgotPasswordMessage}

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return resp, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.IsActive {
		s.log.Info("password reset skipped for inactive account", zap.String("user_id", user.ID.String()))
		return resp, nil
	}

	if _, err := s.otp.Resend(ctx, user.ID, user.Email, models.PurposePasswordReset); err != nil {
		s.log.Warn("password reset code not sent",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}

	return resp, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) (*dto.ResetPasswordResponse, error) {
	if len(req.NewPassword) < auth.MinPasswordLength {
		return nil, models.ErrWeakPassword
	}

	// 1. Get user; an unknown email is just a wrong code
	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, models.ErrOTPInvalid
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// 2. Verify OTP
	if err := s.otp.Verify(ctx, user.ID, string(req.OTP), models.PurposePasswordReset); err != nil {
		return nil, err
	}

	// 3. Hash new password
	passwordHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 4. Update password
	if err := s.users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}

	s.log.Info("password reset", zap.String("user_id", user.ID.String()))

	return &dto.ResetPasswordResponse{
		Success: true,
		Message: "Password reset successfully. You can now login with your new password.",
	}, nil
}

// ==============================================
// PROFILE
// ==============================================

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*dto.MeResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.MeResponse{User: user.ToPublic()}, nil
}

// ==============================================
// HELPER FUNCTIONS
// ==============================================

func (s *AuthService) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, models.ErrInvalidUserID
	}
	return id, nil
}
