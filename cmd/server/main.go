package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bpajor/pay-man-sys/internal/admin"
	"github.com/bpajor/pay-man-sys/internal/config"
	"github.com/bpajor/pay-man-sys/internal/controllers"
	"github.com/bpajor/pay-man-sys/internal/csrf"
	"github.com/bpajor/pay-man-sys/internal/database"
	"github.com/bpajor/pay-man-sys/internal/lockout"
	"github.com/bpajor/pay-man-sys/internal/mail"
	"github.com/bpajor/pay-man-sys/internal/middleware"
	"github.com/bpajor/pay-man-sys/internal/repositories"
	"github.com/bpajor/pay-man-sys/internal/routes"
	"github.com/bpajor/pay-man-sys/internal/services"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/bpajor/pay-man-sys/internal/twofa"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := database.Connect(&cfg.Database, logger); err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, logger); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	// Initialize stores and guards
	userRepo := repositories.NewUserRepository(database.GetDB())
	lockoutGuard := buildLockoutGuard(cfg, redisClient, logger)
	gate := twofa.NewGate(cfg.TOTP.Issuer, cfg.TOTP.Period, cfg.TOTP.Digits)
	csrfGuard, err := csrf.NewGuard(cfg.App.BaseURL)
	if err != nil {
		log.Fatalf("failed to build csrf guard: %v", err)
	}

	sessionTTL, err := cfg.Session.GetTTL()
	if err != nil || sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	sessionStore := session.NewRedisStore(redisClient, sessionTTL)
	sessions := middleware.NewSessionManager(sessionStore, &cfg.Session)

	var mailer mail.Mailer = mail.LogMailer{Log: logger}
	if cfg.Email.Enabled {
		mailer = mail.NewSMTPMailer(&cfg.Email)
	}

	// Initialize services
	authService := services.NewAuthService(userRepo, lockoutGuard, gate, mailer, cfg, logger)

	// Initialize controllers
	authController := controllers.NewAuthController(authService, sessions)
	dashboardController := controllers.NewDashboardController()

	// Setup router
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	requestTimeout, err := cfg.Auth.GetRequestTimeout()
	if err != nil || requestTimeout == 0 {
		requestTimeout = 5 * time.Second
	}
	router.Use(middleware.WithTimeout(requestTimeout))
	routes.SetupRoutes(router, authController, dashboardController, sessions, csrfGuard, logger)
	admin.Setup(router, database.GetDB())

	readTimeout, err := cfg.Server.GetReadTimeout()
	if err != nil || readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout, err := cfg.Server.GetWriteTimeout()
	if err != nil || writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	go func() {
		logger.Info("server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to run server: %v", err)
		}
	}()

	waitForShutdown(srv, &cfg.Server, logger)
}

func buildLockoutGuard(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *lockout.Guard {
	window, err := cfg.Auth.GetAttemptWindow()
	if err != nil || window == 0 {
		window = 10 * time.Minute
	}
	lockDuration, err := cfg.Auth.GetLockDuration()
	if err != nil || lockDuration == 0 {
		lockDuration = 10 * time.Minute
	}
	maxAttempts := cfg.Auth.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return lockout.NewGuard(redisClient, maxAttempts, window, lockDuration, logger)
}

func buildLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Format == "console" || cfg.Level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func waitForShutdown(srv *http.Server, cfg *config.ServerConfig, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down server")

	shutdownTimeout, err := cfg.GetShutdownTimeout()
	if err != nil || shutdownTimeout == 0 {
		shutdownTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
