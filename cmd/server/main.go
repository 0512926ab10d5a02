package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/finvault/internal/auth"
	"github.com/Brownie44l1/finvault/internal/config"
	"github.com/Brownie44l1/finvault/internal/db"
	"github.com/Brownie44l1/finvault/internal/handlers"
	"github.com/Brownie44l1/finvault/internal/logger"
	"github.com/Brownie44l1/finvault/internal/mail"
	"github.com/Brownie44l1/finvault/internal/models"
	"github.com/Brownie44l1/finvault/internal/rate"
	"github.com/Brownie44l1/finvault/internal/repository"
	"github.com/Brownie44l1/finvault/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize database connection
	pool, err := db.NewPool(ctx, cfg.DBUrl, zlog)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	// 3. Optional Redis failure limiter
	checks := map[string]handlers.Pinger{"postgres": pool}
	var limiter service.FailureLimiter
	if cfg.RedisAddr != "" {
		rdb := rate.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()

		limiter = rate.NewFailureLimiter(rdb, models.OTPFailureWindow, models.OTPMaxFailures)
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		zlog.Info("otp failure limiter enabled", zap.String("redis_addr", cfg.RedisAddr))
	} else {
		zlog.Warn("REDIS_ADDR not set, otp failure lockout disabled")
	}

	// 4. Mail driver
	var sender service.MailSender
	switch cfg.MailDriver {
	case "smtp":
		sender = mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	default:
		sender = mail.NewLogSender(zlog)
	}
	zlog.Info("mail driver selected", zap.String("driver", cfg.MailDriver))

	// 5. Initialize layers
	userRepo := repository.NewUserRepository(pool)
	otpRepo := repository.NewOTPRepository(pool)

	emailService := service.NewEmailService(sender)
	otpService := service.NewOTPService(otpRepo, limiter, emailService, zlog)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret)
	authService := service.NewAuthService(userRepo, otpService, tokens, zlog)

	authHandler := handlers.NewAuthHandler(authService, tokens, zlog, cfg.ExposeErrors)
	healthHandler := handlers.NewHealthHandler(checks)

	// 6. Background sweeper for expired codes
	sweeper := service.NewSweeper(otpRepo, cfg.OTPSweepInterval, zlog)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// 7. Setup Gin router
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestLogger(zlog))
	router.Use(handlers.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterRoutes(router)
	authHandler.RegisterRoutes(router)

	// 8. Start server with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-sweepDone
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	zlog.Info("shutting down server")

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-sweepDone

	zlog.Info("server exited")
	return nil
}
