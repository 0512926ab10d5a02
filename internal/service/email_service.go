package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/Brownie44l1/finvault/internal/mail"
	"github.com/Brownie44l1/finvault/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MailSender delivers one rendered message or returns a delivery error.
type MailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// ==============================================
// EMAIL SERVICE
// ==============================================

type EmailService struct {
	sender MailSender
	brand  string
}

func NewEmailService(sender MailSender) *EmailService {
	return &EmailService{sender: sender, brand: "FinVault"}
}

// SendOTP renders the purpose-specific email and hands it to the sender.
func (s *EmailService) SendOTP(ctx context.Context, email, code string, purpose models.Purpose) error {
	msg, err := s.renderOTP(email, code, purpose)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

// ==============================================
// EMAIL TEMPLATES
// ==============================================

type otpCopy struct {
	Subject string
	Intro   string
	Warning string
}

var otpCopies = map[models.Purpose]otpCopy{
	models.PurposeLogin: {
		Subject: "Your login verification code",
		Intro:   "Use the code below to finish signing in.",
		Warning: "If you did not try to sign in, change your password now.",
	},
	models.PurposeSignup: {
		Subject: "Verify your email address",
		Intro:   "Thanks for signing up. Use the code below to verify your email address.",
		Warning: "If you did not create an account, you can ignore this email.",
	},
	models.PurposePasswordReset: {
		Subject: "Reset your password",
		Intro:   "We received a request to reset your password. Use the code below to continue.",
		Warning: "If you did not request this, ignore this email and your password will remain unchanged.",
	},
}

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f4f6f8; padding: 24px;">
  <div style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 32px;">
    <h2 style="margin-top: 0; color: #1f2937;">{{.Title}}</h2>
    <p style="color: #374151;">{{.Intro}}</p>
    <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold; color: #111827; text-align: center;">{{.Code}}</p>
    <p style="color: #6b7280;">This code expires in {{.ExpiryMinutes}} minutes and can be used once.</p>
    <p style="color: #6b7280;">{{.Warning}}</p>
    <p style="color: #9ca3af; font-size: 12px;">{{.Brand}}</p>
  </div>
</body>
</html>`))

func (s *EmailService) renderOTP(email, code string, purpose models.Purpose) (mail.Message, error) {
	c, ok := otpCopies[purpose]
	if !ok {
		return mail.Message{}, models.ErrInvalidPurpose
	}

	var body bytes.Buffer
	err := otpTemplate.Execute(&body, map[string]interface{}{
		"Title":         purposeTitle(purpose),
		"Intro":         c.Intro,
		"Code":          code,
		"ExpiryMinutes": int(models.OTPExpiry.Minutes()),
		"Warning":       c.Warning,
		"Brand":         s.brand,
	})
	if err != nil {
		return mail.Message{}, fmt.Errorf("failed to render OTP email: %w", err)
	}

	return mail.Message{
		To:      email,
		Subject: fmt.Sprintf("%s - %s", c.Subject, s.brand),
		HTML:    body.String(),
	}, nil
}

// purposeTitle turns "password_reset" into "Password Reset Code".
func purposeTitle(purpose models.Purpose) string {
	label := strings.ReplaceAll(string(purpose), "_", " ")
	return cases.Title(language.English).String(label) + " Code"
}
