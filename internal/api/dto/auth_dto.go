package dto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Brownie44l1/finvault/internal/models"
)

// Code accepts the OTP as a JSON string or a bare JSON number.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("otp must be a string or number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// ==============================================
// AUTH REQUEST DTOs
// ==============================================

// LoginRequest starts the two-step login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// VerifyOTPRequest completes login or signup. UserID is echoed from the
// first step; the server keeps no mid-login state.
type VerifyOTPRequest struct {
	UserID string `json:"userId" binding:"required"`
	OTP    Code   `json:"otp" binding:"required"`
}

// ResendOTPRequest - Purpose defaults to login
type ResendOTPRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Purpose string `json:"purpose" binding:"omitempty,oneof=login signup password_reset"`
}

type SignupRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	OTP         Code   `json:"otp" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=72"`
}

// ==============================================
// AUTH RESPONSE DTOs
// ==============================================

type LoginRequestResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type VerifyLoginOTPResponse struct {
	Success   bool               `json:"success"`
	Token     string             `json:"token"`
	TokenType string             `json:"tokenType"` // "Bearer"
	ExpiresIn int                `json:"expiresIn"` // seconds
	User      *models.PublicUser `json:"user"`
}

type ResendOTPResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"` // seconds until the new code expires
}

type SignupResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type VerifySignupOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ForgotPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ResetPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type MeResponse struct {
	User *models.PublicUser `json:"user"`
}
