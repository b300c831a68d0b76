package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/keyforge-store/api/internal/di"
	"github.com/keyforge-store/api/internal/handlers"
	"github.com/keyforge-store/api/internal/platform/auth"
	"github.com/keyforge-store/api/internal/platform/config"
	"github.com/keyforge-store/api/internal/platform/observability"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build dependency container", zap.Error(err))
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	orderHandlers, err := handlers.NewOrderHandlers(container.Services.Orders, container.Services.PaymentStatus)
	if err != nil {
		logger.Fatal("failed to initialise order handlers", zap.Error(err))
	}
	adminHandlers, err := handlers.NewAdminHandlers(container.Services.Orders, container.Services.Allocation)
	if err != nil {
		logger.Fatal("failed to initialise admin handlers", zap.Error(err))
	}
	webhookHandlers, err := handlers.NewWebhookHandlers(container.Services.PaymentStatus, cfg.Payments.WebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise webhook handlers", zap.Error(err))
	}

	readiness := make(map[string]handlers.ReadinessCheck)
	for name, check := range container.ReadinessChecks() {
		readiness[name] = check
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(readiness)),
		handlers.WithOrderRoutes(orderHandlers.Routes, auth.RequireAuth(verifier)),
		handlers.WithAdminRoutes(adminHandlers.Routes, auth.RequireAuth(verifier), auth.RequireRole(auth.RoleAdmin)),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go func() {
		if err := container.Sweeper.Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("expiry sweeper stopped", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("keyforge api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
