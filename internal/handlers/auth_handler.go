package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/finvault/internal/api/dto"
	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ==============================================
// SERVICE INTERFACE (for testing)
// ==============================================

type AuthService interface {
	RequestLogin(ctx context.Context, req dto.LoginRequest) (*dto.LoginRequestResponse, error)
	VerifyLoginOTP(ctx context.Context, req dto.VerifyOTPRequest) (*dto.VerifyLoginOTPResponse, error)
	ResendOTP(ctx context.Context, req dto.ResendOTPRequest) (*dto.ResendOTPResponse, error)
	Signup(ctx context.Context, req dto.SignupRequest) (*dto.SignupResponse, error)
	VerifySignupOTP(ctx context.Context, req dto.VerifyOTPRequest) (*dto.VerifySignupOTPResponse, error)
	ForgotPassword(ctx context.Context, req dto.ForgotPasswordRequest) (*dto.ForgotPasswordResponse, error)
	ResetPassword(ctx context.Context, req dto.ResetPasswordRequest) (*dto.ResetPasswordResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*dto.MeResponse, error)
}

// ==============================================
// HANDLER (HTTP Layer ONLY)
// ==============================================

type AuthHandler struct {
	service      AuthService
	tokens       TokenValidator
	log          *zap.Logger
	exposeErrors bool
}

func NewAuthHandler(service AuthService, tokens TokenValidator, log *zap.Logger, exposeErrors bool) *AuthHandler {
	return &AuthHandler{
		service:      service,
		tokens:       tokens,
		log:          log,
		exposeErrors: exposeErrors,
	}
}

// ==============================================
// LOGIN ENDPOINTS
// ==============================================

// LoginRequest handles POST /api/v1/auth/login-request
func (h *AuthHandler) LoginRequest(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.RequestLogin(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// VerifyLoginOTP handles POST /api/v1/auth/verify-login-otp
func (h *AuthHandler) VerifyLoginOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.VerifyLoginOTP(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ResendOTP handles POST /api/v1/auth/resend-otp
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req dto.ResendOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.ResendOTP(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ==============================================
// SIGNUP ENDPOINTS
// ==============================================

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.Signup(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, resp)
}

// VerifySignupOTP handles POST /api/v1/auth/verify-signup-otp
func (h *AuthHandler) VerifySignupOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.VerifySignupOTP(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ==============================================
// PASSWORD ENDPOINTS
// ==============================================

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.ForgotPassword(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.service.ResetPassword(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ==============================================
// PROFILE ENDPOINTS
// ==============================================

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Authentication required")
		return
	}

	resp, err := h.service.Me(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// ==============================================
// ROUTE REGISTRATION
// ==============================================

func (h *AuthHandler) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/api/v1/auth")
	{
		authGroup.POST("/login-request", h.LoginRequest)
		authGroup.POST("/verify-login-otp", h.VerifyLoginOTP)
		authGroup.POST("/resend-otp", h.ResendOTP)
		authGroup.POST("/signup", h.Signup)
		authGroup.POST("/verify-signup-otp", h.VerifySignupOTP)
		authGroup.POST("/forgot-password", h.ForgotPassword)
		authGroup.POST("/reset-password", h.ResetPassword)
		authGroup.GET("/me", RequireAuth(h.tokens), h.Me)
	}
}

// ==============================================
// HELPER FUNCTIONS
// ==============================================

// bindJSON writes the 400 itself and reports whether the handler should continue.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Success: false,
			Error:   models.ErrCodeValidationFailed,
			Message: "Invalid request: " + err.Error(),
		})
		return false
	}
	return true
}

func respondSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

func respondError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// respondServiceError maps service errors to HTTP status codes and responses
func (h *AuthHandler) respondServiceError(c *gin.Context, err error) {
	statusCode, resp := mapServiceError(err)

	if resp.WaitSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(resp.WaitSeconds))
	}

	if statusCode >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		if resp.Error == models.ErrCodeInternalError && h.exposeErrors {
			resp.Message = err.Error()
		}
	}

	c.JSON(statusCode, resp)
}

// mapServiceError maps service errors to HTTP status codes and client-safe messages
func mapServiceError(err error) (int, dto.ErrorResponse) {
	resp := dto.ErrorResponse{Success: false}

	switch {
	// Validation errors (400 Bad Request)
	case models.IsValidationError(err):
		resp.Error, resp.Message = models.ErrCodeValidationFailed, err.Error()
		return http.StatusBadRequest, resp

	// Auth errors (401 Unauthorized)
	case errors.Is(err, models.ErrInvalidCredentials):
		resp.Error, resp.Message = models.ErrCodeInvalidCredentials, "Invalid email or password"
		return http.StatusUnauthorized, resp
	case errors.Is(err, models.ErrOTPInvalid):
		resp.Error, resp.Message = models.ErrCodeOTPInvalid, "Invalid or expired OTP"
		return http.StatusUnauthorized, resp
	case errors.Is(err, models.ErrInvalidToken), errors.Is(err, models.ErrTokenExpired):
		resp.Error, resp.Message = models.ErrCodeUnauthorized, err.Error()
		return http.StatusUnauthorized, resp

	// Forbidden (403)
	case errors.Is(err, models.ErrAccountInactive):
		resp.Error, resp.Message = models.ErrCodeAccountInactive, "Account is deactivated"
		return http.StatusForbidden, resp

	// Not found (404)
	case errors.Is(err, models.ErrUserNotFound):
		resp.Error, resp.Message = models.ErrCodeNotFound, "User not found"
		return http.StatusNotFound, resp

	// Conflict (409)
	case errors.Is(err, models.ErrEmailAlreadyExists):
		resp.Error, resp.Message = models.ErrCodeUserExists, "Email already registered"
		return http.StatusConflict, resp

	// Rate limited (429 Too Many Requests)
	case errors.Is(err, models.ErrOTPResendCooldown):
		resp.Error, resp.Message = models.ErrCodeOTPCooldown, err.Error()
		var cooldown *models.CooldownError
		if errors.As(err, &cooldown) {
			resp.WaitSeconds = cooldown.WaitSeconds()
		}
		return http.StatusTooManyRequests, resp
	case errors.Is(err, models.ErrOTPLocked):
		resp.Error, resp.Message = models.ErrCodeOTPLocked, "Too many failed attempts, please try again later"
		return http.StatusTooManyRequests, resp

	// Delivery (500)
	case errors.Is(err, models.ErrOTPDelivery):
		resp.Error, resp.Message = models.ErrCodeOTPDelivery, "Failed to send OTP"
		return http.StatusInternalServerError, resp

	// Default (500 Internal Server Error)
	default:
		resp.Error, resp.Message = models.ErrCodeInternalError, "Internal server error"
		return http.StatusInternalServerError, resp
	}
}
