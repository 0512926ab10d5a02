package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env          string `mapstructure:"ENV"`
	Port         string `mapstructure:"PORT"`
	GinMode      string `mapstructure:"GIN_MODE"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	ExposeErrors bool   `mapstructure:"EXPOSE_ERRORS"`

	DBUrl         string `mapstructure:"DB_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	MailDriver   string `mapstructure:"MAIL_DRIVER"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`

	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	OTPSweepInterval   time.Duration `mapstructure:"OTP_SWEEP_INTERVAL"`
}

var defaults = map[string]interface{}{
	"ENV":                  "development",
	"PORT":                 "8080",
	"GIN_MODE":             "release",
	"LOG_LEVEL":            "info",
	"EXPOSE_ERRORS":        false,
	"DB_URL":               "",
	"REDIS_ADDR":           "", // empty disables the failure lockout
	"REDIS_PASSWORD":       "",
	"JWT_SECRET":           "",
	"MAIL_DRIVER":          "log",
	"SMTP_HOST":            "",
	"SMTP_PORT":            465,
	"SMTP_USERNAME":        "",
	"SMTP_PASSWORD":        "",
	"MAIL_FROM":            "no-reply@finvault.local",
	"CORS_ALLOWED_ORIGINS": "",
	"OTP_SWEEP_INTERVAL":   "1m",
}

// LoadConfig reads .env (if present) and then the process environment.
func LoadConfig(envFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.DBUrl == "" {
		problems = append(problems, "DB_URL is required")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	switch c.MailDriver {
	case "log":
	case "smtp":
		if c.SMTPHost == "" {
			problems = append(problems, "SMTP_HOST is required when MAIL_DRIVER=smtp")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown MAIL_DRIVER %q", c.MailDriver))
	}
	if c.OTPSweepInterval <= 0 {
		problems = append(problems, "OTP_SWEEP_INTERVAL must be positive")
	}
	if c.IsProduction() && c.CORSAllowedOrigins == "" {
		problems = append(problems, "CORS_ALLOWED_ORIGINS must be set in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means any origin.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, p := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
