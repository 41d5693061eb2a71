package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhoward/ztverify/internal/auth"
	"github.com/rhoward/ztverify/internal/config"
	"github.com/rhoward/ztverify/internal/database"
	"github.com/rhoward/ztverify/internal/handlers"
	"github.com/rhoward/ztverify/internal/metrics"
	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/repositories"
	"github.com/rhoward/ztverify/internal/risk"
	"github.com/rhoward/ztverify/internal/routes"
	"github.com/rhoward/ztverify/internal/services"
	pkgauth "github.com/rhoward/ztverify/pkg/auth"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
	pkglogger "github.com/rhoward/ztverify/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Environment))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	challengeRepo := repositories.NewChallengeRepository(db)

	// Metrics and audit logging
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.Region,
		cfg.Email.FromAddress,
		cfg.Email.FromName,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Geolocation: lookups are optional, logins fall back to the unknown
	// location when no endpoint is configured
	var geolocator services.Geolocator = services.NoopGeolocator{}
	if cfg.Geo.Endpoint != "" {
		geolocator = services.NewHTTPGeolocator(cfg.Geo.Endpoint, cfg.Geo.Timeout, logger)
	}

	// Risk engine: rules always run, the classifier is optional
	var classifier risk.AnomalyClassifier = risk.NoopClassifier{}
	if cfg.Risk.ClassifierWeightsPath != "" {
		lc, err := risk.LoadLogisticClassifier(cfg.Risk.ClassifierWeightsPath)
		if err != nil {
			logger.Error("failed to load classifier weights", slog.Any("error", err))
			os.Exit(1)
		}
		classifier = lc
		logger.Info("anomaly classifier loaded", slog.String("path", cfg.Risk.ClassifierWeightsPath))
	}
	policy := risk.NewPolicy(risk.PolicyOverrides{
		LevelMediumMin:   cfg.Risk.MediumThreshold,
		LevelHighMin:     cfg.Risk.ChallengeThreshold,
		TrustedCountries: cfg.Risk.TrustedCountries,
		DeniedCountries:  cfg.Risk.DeniedCountries,
		StepUpCountries:  cfg.Risk.StepUpCountries,
	})
	engine := risk.NewEngine(policy, classifier, logger)

	// Initialize services
	credentialService := services.NewCredentialService(userRepo)
	auditService := services.NewAuditService(attemptRepo, auditLogger, m, logger)
	challengeService := services.NewChallengeService(
		challengeRepo,
		emailService,
		auditService,
		cfg.Otp.CodeLength,
		cfg.Otp.Expiry,
		cfg.Otp.MaxAttempts,
		logger,
	)
	decisionService := services.NewDecisionService(
		credentialService,
		userRepo,
		deviceRepo,
		attemptRepo,
		geolocator,
		cfg.Geo.Timeout,
		engine,
		auditService,
		challengeService,
		m,
		logger,
	)
	userService := services.NewUserService(userRepo)
	adminService := services.NewAdminService(attemptRepo, deviceRepo)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(decisionService, challengeService, tokenManager, ipConfig, cfg.Otp.CodeLength)
	adminHandler := handlers.NewAdminHandler(adminService, userService)
	healthHandler := handlers.NewHealthHandler(db)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := routes.New(routes.Dependencies{
		Config:       cfg,
		Logger:       logger,
		TokenManager: tokenManager,
		AuthHandler:  authHandler,
		AdminHandler: adminHandler,
		Health:       healthHandler,
		Registry:     registry,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME, ADMIN_EMAIL
// and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME, ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	// Hash password
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	// Create admin user
	admin := &models.User{
		Username:     adminUsername,
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
		Status:       models.StatusActive,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
