package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/Brownie44l1/finvault/internal/models"
)

const (
	otpMin = 100000
	otpMax = 999999
)

// GenerateOTP draws a 6-digit code uniformly from [100000, 999999].
func GenerateOTP() (string, error) {
	return generateOTP(rand.Reader)
}

func generateOTP(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%0*d", models.OTPLength, n.Int64()+otpMin), nil
}
