// Package main is the entry point for the ContractHub API server.
//
// It loads configuration, connects the Postgres ledger, wires the billing
// gateway and orchestrators, builds the HTTP server with the core chassis
// (middleware, routing, health checks), and serves until SIGINT/SIGTERM.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"contracthub/internal/addon"
	"contracthub/internal/api/handlers"
	"contracthub/internal/auth"
	"contracthub/internal/catalog"
	"contracthub/internal/config"
	"contracthub/internal/core"
	"contracthub/internal/db"
	"contracthub/internal/external"
	"contracthub/internal/metrics"
	"contracthub/internal/portal"
	"contracthub/internal/provision"
	"contracthub/internal/queue"
	"contracthub/internal/reconcile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can exit cleanly on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("contracthub API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	users := db.NewUserRepository(pool)
	sessions := db.NewSessionRepository(pool)
	contracts := db.NewContractRepository(pool)
	events := db.NewEventRepository(pool)

	authService := auth.NewService(auth.ServiceConfig{
		Users:      users,
		Sessions:   sessions,
		TokenGen:   auth.NewCryptoTokenGenerator(),
		NewID:      uuid.NewString,
		SessionTTL: cfg.Auth.SessionTTL,
		Logger:     logger,
	})

	gateway := external.NewStripeClient(&http.Client{Timeout: 20 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})

	sqsClient, cwClient := newAWSClients(ctx, cfg, logger)
	alerts := queue.NewOperatorAlertPublisher(sqsClient, cfg.AWS.AlertQueueURL, logger)
	recorder := metrics.NewRecorder(cwClient, cfg.AWS.MetricNamespace, logger)

	cat := catalog.New()
	successURL := cfg.Server.SiteURL + "/checkout/success"
	cancelURL := cfg.Server.SiteURL + "/checkout/cancel"

	provisioner := provision.New(provision.Config{
		Gateway:    gateway,
		Catalog:    cat,
		Contracts:  contracts,
		Alerts:     alerts,
		NewID:      uuid.NewString,
		Logger:     logger,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})

	addons := addon.New(addon.Config{
		Gateway:    gateway,
		Catalog:    cat,
		Contracts:  contracts,
		Logger:     logger,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})

	billingPortal := portal.NewService(portal.Config{
		Gateway:   gateway,
		Contracts: contracts,
		Logger:    logger,
		ReturnURL: cfg.Server.SiteURL + "/mypage",
	})

	reconciler := reconcile.NewHandler(reconcile.HandlerConfig{
		Users:     users,
		Contracts: contracts,
		Events:    events,
		Gateway:   gateway,
		Catalog:   cat,
		Alerts:    alerts,
		Metrics:   recorder,
		NewID:     uuid.NewString,
		Logger:    logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authService
	srv.HealthProbes = []core.HealthProbe{
		core.PoolProbe{ProbeName: "database", Pinger: pool},
	}

	userHandler := handlers.NewUserHandler(authService, logger, srv.Validator)
	provisioningHandler := handlers.NewProvisioningHandler(provisioner, logger, srv.Validator)
	contractHandler := handlers.NewContractHandler(contracts, cat, logger)
	addonHandler := handlers.NewAddonHandler(addons, logger, srv.Validator)
	billingHandler := handlers.NewBillingHandler(billingPortal, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		userHandler.RegisterRoutes,
		provisioningHandler.RegisterRoutes,
		contractHandler.RegisterRoutes,
		addonHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		reconciler,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	srv.WebhookRegistrar = webhookHandler.RegisterRoutes

	srv.MountRoutes()

	return serveHTTP(srv, cfg, logger)
}

// newAWSClients builds the SQS and CloudWatch clients. Failures degrade to
// nil clients, which select log-only alerts and no-op metrics.
func newAWSClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqs.Client, *cloudwatch.Client) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("failed to load AWS SDK config, alerts and metrics disabled",
			"error", err,
		)
		return nil, nil
	}
	return sqs.NewFromConfig(awsCfg), cloudwatch.NewFromConfig(awsCfg)
}

// serveHTTP runs the server with graceful shutdown on SIGINT/SIGTERM.
func serveHTTP(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
